package api

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Request field limits.
const (
	MaxRefLength      = 2048
	MaxSelectorLength = 1024
	MaxPatternLength  = 256
)

func validateNavigate(req NavigateRequest) error {
	if req.Ref == "" && req.Path == "" {
		return errors.New("ref or path is required")
	}
	for name, v := range map[string]string{
		"ref":           req.Ref,
		"path":          req.Path,
		"getParameters": req.GetParameters,
		"anchor":        req.Anchor,
	} {
		if err := checkString(name, v, MaxRefLength); err != nil {
			return err
		}
	}
	return nil
}

func validateSelector(sel string) error {
	if sel == "" {
		return errors.New("selector is required")
	}
	return checkString("selector", sel, MaxSelectorLength)
}

func validatePattern(p string) error {
	return checkString("match", p, MaxPatternLength)
}

func checkString(name, v string, max int) error {
	if len(v) > max {
		return fmt.Errorf("%s exceeds maximum length of %d", name, max)
	}
	if !utf8.ValidString(v) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	return nil
}
