package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// IniFile represents a parsed INI file.
// It maps section names to a map of key-value pairs.
// Properties before any section are stored in the "" (empty string) section.
type IniFile struct {
	Sections map[string]map[string]string
	order    []string
}

// NewIniFile creates a new empty IniFile
func NewIniFile() *IniFile {
	return &IniFile{
		Sections: map[string]map[string]string{"": {}},
	}
}

// ParseIni reads an INI file. Section names and keys are case-insensitive
// and stored lower case. A ';' or '#' starts a comment, at the start of a
// line or after a value.
func ParseIni(r io.Reader) (*IniFile, error) {
	ini := NewIniFile()
	scanner := bufio.NewScanner(r)
	current := ""
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, exists := ini.Sections[current]; !exists {
				ini.Sections[current] = make(map[string]string)
				ini.order = append(ini.order, current)
			}
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line)
		}
		ini.Sections[current][strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ini, nil
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		return line[:i]
	}
	return line
}

// GetSection returns the key-value map for a given section, or nil if not found
func (ini *IniFile) GetSection(name string) map[string]string {
	return ini.Sections[name]
}

// SectionNames returns the named sections in file order.
func (ini *IniFile) SectionNames() []string {
	return append([]string(nil), ini.order...)
}
