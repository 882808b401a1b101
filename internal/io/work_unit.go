package io

import "github.com/ecopia-map/pointdb/internal/index"

// Contains the data needed to index a single LAS file
type WorkUnit struct {
	Input    string
	Output   string
	Settings index.Settings
}
