package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	types "github.com/yungbote/adforge-backend/internal/domain"
	"github.com/yungbote/adforge-backend/internal/modules/matrix"
)

// matrixFile is the on-disk shape read by generate. JSON input parses too,
// since JSON is valid YAML.
type matrixFile struct {
	Name  string `yaml:"name"`
	Slots []struct {
		ID           string   `yaml:"id"`
		Name         string   `yaml:"name"`
		Type         string   `yaml:"type"`
		CandidateIDs []string `yaml:"candidateIds"`
		Locked       bool     `yaml:"locked"`
		LockedValue  string   `yaml:"lockedValue"`
	} `yaml:"slots"`
	Rows []struct {
		ID     string            `yaml:"id"`
		Values map[string]string `yaml:"values"`
		Locked bool              `yaml:"locked"`
		Status string            `yaml:"status"`
	} `yaml:"rows"`
}

func loadMatrixFile(path string) (*types.MatrixConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseMatrix(raw)
}

func parseMatrix(raw []byte) (*types.MatrixConfiguration, error) {
	var f matrixFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse matrix file: %w", err)
	}

	slots := make([]types.Slot, 0, len(f.Slots))
	for _, s := range f.Slots {
		slots = append(slots, types.Slot{
			ID:           s.ID,
			Name:         s.Name,
			Type:         s.Type,
			CandidateIDs: s.CandidateIDs,
			Locked:       s.Locked,
			LockedValue:  s.LockedValue,
		})
	}
	slots, err := matrix.NormalizeSlots(slots)
	if err != nil {
		return nil, err
	}

	rows := make([]types.Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		rows = append(rows, types.Row{
			ID:     r.ID,
			Values: r.Values,
			Locked: r.Locked,
			Status: types.RowStatus(r.Status),
		})
	}
	rows, err = matrix.NormalizeRows(rows, slots)
	if err != nil {
		return nil, err
	}

	return &types.MatrixConfiguration{Name: f.Name, Slots: slots, Rows: rows}, nil
}
