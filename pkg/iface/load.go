package iface

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// Loader fetches the interface document for one unit.
type Loader interface {
	Load(ctx context.Context, unitID string) (*Package, error)
}

// DirLoader reads interface documents from a corpus directory laid
// out as <root>/<unit>/interface.json, falling back to
// <root>/<unit>.json.
type DirLoader struct {
	Root string
}

// Load implements Loader.
func (l DirLoader) Load(_ context.Context, unitID string) (*Package, error) {
	candidates := []string{
		filepath.Join(l.Root, unitID, "interface.json"),
		filepath.Join(l.Root, unitID+".json"),
	}

	var firstErr error
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return Parse(data)
	}

	return nil, errors.Wrap(firstErr, errors.ErrCodeInterfaceLoad, "interface document not found").
		WithContext("unit", unitID).
		WithContext("root", l.Root)
}

// Parse decodes and validates an interface document.
func Parse(data []byte) (*Package, error) {
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInterfaceLoad, "failed to decode interface document")
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Validate checks structural invariants the rest of the pipeline
// relies on. A document that fails here is excluded from the run
// rather than trusted partially.
func (p *Package) Validate() error {
	if p.PackageID == "" {
		return errors.New(errors.ErrCodeInterfaceLoad, "interface document missing package_id")
	}
	for _, modName := range p.ModuleNames() {
		mod := p.Modules[modName]
		for _, fnName := range mod.FunctionNames() {
			fn := mod.Functions[fnName]
			where := fmt.Sprintf("%s::%s", modName, fnName)
			for i, param := range fn.Params {
				if err := validateType(param); err != nil {
					return errors.Wrap(err, errors.ErrCodeInterfaceLoad, "invalid parameter type").
						WithContext("function", where).
						WithContext("param", i)
				}
			}
			for i, ret := range fn.Returns {
				if err := validateType(ret); err != nil {
					return errors.Wrap(err, errors.ErrCodeInterfaceLoad, "invalid return type").
						WithContext("function", where).
						WithContext("return", i)
				}
			}
		}
		for _, structName := range mod.StructNames() {
			st := mod.Structs[structName]
			for _, field := range st.Fields {
				if err := validateType(field.Type); err != nil {
					return errors.Wrap(err, errors.ErrCodeInterfaceLoad, "invalid field type").
						WithContext("struct", fmt.Sprintf("%s::%s", modName, structName)).
						WithContext("field", field.Name)
				}
			}
		}
	}
	return nil
}

func validateType(t Type) error {
	switch t.Kind {
	case KindBool, KindU8, KindU16, KindU32, KindU64, KindU128, KindU256, KindAddress, KindSigner:
		return nil
	case KindVector:
		if t.Elem == nil {
			return fmt.Errorf("vector without element type")
		}
		return validateType(*t.Elem)
	case KindRef:
		if t.To == nil {
			return fmt.Errorf("ref without target type")
		}
		return validateType(*t.To)
	case KindDatatype:
		if t.Address == "" || t.Module == "" || t.Name == "" {
			return fmt.Errorf("datatype missing address, module, or name")
		}
		for _, arg := range t.TypeArgs {
			if err := validateType(arg); err != nil {
				return err
			}
		}
		return nil
	case KindTypeParam:
		if t.Index < 0 {
			return fmt.Errorf("negative type_param index")
		}
		return nil
	case "":
		return fmt.Errorf("type missing kind")
	default:
		return fmt.Errorf("unknown type kind %q", t.Kind)
	}
}
