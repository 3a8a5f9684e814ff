// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate compiles schema and checks instance against it, matching the
// teacher's internal/config/validate.go (santhosh-tekuri/jsonschema/v5),
// returning an error instead of aborting the process so callers (Init,
// tests) control the failure mode.
func Validate(schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("epycore-config.json", schema)
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: unmarshal instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: schema validation: %w", err)
	}
	return nil
}
