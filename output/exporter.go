package output

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Exporter exposes values to subsequent build steps with envman.
type Exporter struct {
	cmdFactory command.Factory
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return Exporter{cmdFactory: cmdFactory}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e Exporter) ExportOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value}, nil)
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting output with envman failed: %s, output: %s", err, out)
	}
	return nil
}

// NewRepository returns an env.Repository that also exports every value it sets.
func NewRepository(osRepository env.Repository) env.Repository {
	return exportingRepository{
		osRepository: osRepository,
		exporter:     NewExporter(command.NewFactory(osRepository)),
	}
}

type exportingRepository struct {
	osRepository env.Repository
	exporter     Exporter
}

// Get ...
func (r exportingRepository) Get(key string) string {
	return r.osRepository.Get(key)
}

// Set ...
func (r exportingRepository) Set(key, value string) error {
	if err := r.osRepository.Set(key, value); err != nil {
		return err
	}
	return r.exporter.ExportOutput(key, value)
}

// Unset ...
func (r exportingRepository) Unset(key string) error {
	if err := r.osRepository.Unset(key); err != nil {
		return err
	}
	return r.exporter.ExportOutput(key, "")
}

// List ...
func (r exportingRepository) List() []string {
	return r.osRepository.List()
}
