// Package descriptor finds and parses the .devstack.yml file that declares an
// app and its services.
package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"devstack/pkg/logging"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileNames lists the descriptor names looked up in every directory, in order.
var FileNames = []string{".devstack.yml", ".devstack.yaml"}

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// AppDescriptor is the typed in-memory form of a descriptor file.
type AppDescriptor struct {
	Name     string
	RootPath string // Directory containing the descriptor
	File     string // Absolute path of the descriptor file

	// Services holds the declared services; Order preserves declaration order.
	Services map[string]ServiceDecl
	Order    []string
}

// ServiceDecl declares the intent for one service. It is not runnable as is;
// see package servicegraph.
type ServiceDecl struct {
	Type    string
	Options map[string]any
}

// rawDescriptor mirrors the file layout. Services stay a yaml.Node so that the
// declaration order survives decoding.
type rawDescriptor struct {
	Name     string    `yaml:"name" validate:"required,slug"`
	Services yaml.Node `yaml:"services"`
}

type rawService struct {
	Name string `validate:"required,slug"`
	Type string `validate:"required"`
}

// Load searches rootPath and then each of its parents for a descriptor file
// and parses the first one found.
func Load(rootPath string) (*AppDescriptor, error) {
	path, err := Find(rootPath)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// Find returns the absolute path of the closest descriptor at or above rootPath.
func Find(rootPath string) (string, error) {
	dir, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				logging.Debug("Descriptor", "Found descriptor %s", candidate)
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s in %s or any parent directory", ErrNotFound, FileNames[0], rootPath)
		}
		dir = parent
	}
}

// LoadFile parses the descriptor at path.
func LoadFile(path string) (*AppDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrParse, path, err)
	}

	desc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	desc.File = abs
	desc.RootPath = filepath.Dir(abs)
	return desc, nil
}

// Parse decodes and validates descriptor content. RootPath and File are left
// empty.
func Parse(data []byte) (*AppDescriptor, error) {
	var raw rawDescriptor
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: name %q must be a non-empty slug (letters, digits, '.', '_' or '-')", ErrSchema, raw.Name)
	}

	services := &raw.Services
	if services.Kind == yaml.DocumentNode && len(services.Content) == 1 {
		services = services.Content[0]
	}
	isNull := services.Kind == yaml.ScalarNode && services.Tag == "!!null"
	if services.Kind == 0 || isNull || (services.Kind == yaml.MappingNode && len(services.Content) == 0) {
		return nil, fmt.Errorf("%w: app %q declares no services", ErrSchema, raw.Name)
	}
	if services.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: services must be a mapping of service name to definition", ErrSchema)
	}

	desc := &AppDescriptor{
		Name:     raw.Name,
		Services: make(map[string]ServiceDecl, len(services.Content)/2),
	}

	for i := 0; i+1 < len(services.Content); i += 2 {
		keyNode, valueNode := services.Content[i], services.Content[i+1]
		name := keyNode.Value

		if _, exists := desc.Services[name]; exists {
			return nil, fmt.Errorf("%w: service %q declared twice (line %d)", ErrSchema, name, keyNode.Line)
		}

		decl, err := parseService(name, valueNode)
		if err != nil {
			return nil, err
		}

		desc.Services[name] = decl
		desc.Order = append(desc.Order, name)
	}

	return desc, nil
}

func parseService(name string, node *yaml.Node) (ServiceDecl, error) {
	if node.Kind != yaml.MappingNode {
		return ServiceDecl{}, fmt.Errorf("%w: service %q must be a mapping (line %d)", ErrSchema, name, node.Line)
	}

	var options map[string]any
	if err := node.Decode(&options); err != nil {
		return ServiceDecl{}, fmt.Errorf("%w: service %q: %v", ErrParse, name, err)
	}

	typ, _ := options["type"].(string)
	delete(options, "type")

	if err := validate.Struct(rawService{Name: name, Type: strings.TrimSpace(typ)}); err != nil {
		return ServiceDecl{}, fmt.Errorf("%w: service %q needs a slug name and a string type such as \"node:8.9\" (line %d)", ErrSchema, name, node.Line)
	}

	return ServiceDecl{Type: strings.TrimSpace(typ), Options: options}, nil
}
