package config

import (
	"errors"
	"strings"
)

// apiAliases are the project aliases given with the repeatable api-alias
// flag. Aliases are matched case-insensitively, so a repeated alias is
// kept once, in its first spelling.
type apiAliases []string

func (a *apiAliases) add(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return errors.New("empty api alias")
	}

	for _, existing := range *a {
		if strings.EqualFold(existing, v) {
			return nil
		}
	}

	*a = append(*a, v)
	return nil
}

func (a *apiAliases) Set(value string) error {
	return a.add(value)
}

func (a *apiAliases) UnmarshalYAML(unmarshal func(any) error) error {
	var values []string
	if err := unmarshal(&values); err != nil {
		return err
	}

	*a = nil
	for _, v := range values {
		if err := a.add(v); err != nil {
			return err
		}
	}

	return nil
}

func (a *apiAliases) String() string {
	if a == nil {
		return ""
	}

	return strings.Join(*a, ",")
}
