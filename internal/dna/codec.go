package dna

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Marshal renders d as YAML, the format written next to every recorded
// candidate and read back by replay.
func Marshal(d Dna) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode dna %d: %w", d.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte) (Dna, error) {
	var d Dna
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Dna{}, fmt.Errorf("decode dna: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Dna{}, err
	}
	return d, nil
}

func ReadFile(path string) (Dna, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dna{}, err
	}
	d, err := Unmarshal(data)
	if err != nil {
		return Dna{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func WriteFile(path string, d Dna) error {
	data, err := Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
