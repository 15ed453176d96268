package main

import "encoding/json"

// jsonMarshalIndent is the one JSON entry point every subcommand's
// --format=json path goes through, so indentation stays consistent.
func jsonMarshalIndent(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
