package stepconf

import "github.com/bitrise-io/go-utils/v2/env"

// InputParser fills configuration structs from an env source.
type InputParser interface {
	Parse(input interface{}) error
}

type defaultInputParser struct {
	envGetter EnvGetter
}

// NewInputParser ...
func NewInputParser(envRepository env.Repository) InputParser {
	return defaultInputParser{
		envGetter: envRepository,
	}
}

// Parse ...
func (p defaultInputParser) Parse(input interface{}) error {
	return parse(input, p.envGetter)
}
