package dialog

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// FieldName derives the collected-data key for a step's answer from its id:
// the "_step" suffix and the "get_"/"choose_" prefixes are stripped, so the
// answer to "name_question_step" lands under "name_question" and the answer
// to "choose_topic" under "topic".
func FieldName(stepID string) string {
	name := strings.TrimSuffix(stepID, "_step")
	name = strings.TrimPrefix(name, "get_")
	name = strings.TrimPrefix(name, "choose_")
	return name
}

// DecodeData maps a collected-data snapshot onto a typed struct using
// mapstructure field tags. Values are converted weakly, so numeric answers
// collected as strings decode into int fields.
func DecodeData(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("failed to decode collected data: %w", err)
	}
	return nil
}
