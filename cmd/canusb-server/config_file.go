package main

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// applyConfigFile loads settings from an INI file. Keys are the flag names
// and may sit in the default section or in [server]; flags set on the
// command line are skipped. Unknown keys are rejected.
func applyConfigFile(c *appConfig, path string, set map[string]struct{}) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	known := make(map[string]setting, len(settings))
	for _, s := range settings {
		known[s.name] = s
	}
	for _, sec := range []*ini.Section{f.Section(ini.DefaultSection), f.Section("server")} {
		for _, key := range sec.Keys() {
			s, ok := known[key.Name()]
			if !ok {
				return fmt.Errorf("config file %s: unknown key %q in [%s]", path, key.Name(), sec.Name())
			}
			if _, ok := set[s.name]; ok {
				continue
			}
			if err := s.apply(c, key.String()); err != nil {
				return fmt.Errorf("config file %s: %s: %w", path, key.Name(), err)
			}
		}
	}
	return nil
}
