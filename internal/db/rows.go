package db

import (
	"encoding/json"
	"fmt"

	"github.com/udisondev/regionsys/internal/regiondata"
)

// regionRow is the column form of a region shared by both dialects.
type regionRow struct {
	ID       int64
	Name     string
	Priority int
	Tags     []string
	Shape    []byte
	POIs     []byte
}

func toRow(dto regiondata.RegionDTO) (regionRow, error) {
	shape, err := json.Marshal(dto.Shape)
	if err != nil {
		return regionRow{}, fmt.Errorf("encoding shape of region %d: %w", dto.ID, err)
	}
	pois := dto.POIs
	if pois == nil {
		pois = [][3]float64{}
	}
	poisJSON, err := json.Marshal(pois)
	if err != nil {
		return regionRow{}, fmt.Errorf("encoding pois of region %d: %w", dto.ID, err)
	}
	tags := dto.Tags
	if tags == nil {
		tags = []string{}
	}
	return regionRow{
		ID:       int64(dto.ID),
		Name:     dto.Name,
		Priority: dto.Priority,
		Tags:     tags,
		Shape:    shape,
		POIs:     poisJSON,
	}, nil
}

func (r regionRow) dto() (regiondata.RegionDTO, error) {
	dto := regiondata.RegionDTO{
		ID:       uint64(r.ID),
		Name:     r.Name,
		Priority: r.Priority,
	}
	if len(r.Tags) > 0 {
		dto.Tags = r.Tags
	}
	if err := json.Unmarshal(r.Shape, &dto.Shape); err != nil {
		return dto, fmt.Errorf("decoding shape of region %d: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.POIs, &dto.POIs); err != nil {
		return dto, fmt.Errorf("decoding pois of region %d: %w", r.ID, err)
	}
	if len(dto.POIs) == 0 {
		dto.POIs = nil
	}
	return dto, nil
}

// rowsOf assigns sequential IDs to regions without one and encodes them.
func rowsOf(doc regiondata.Document) ([]regionRow, error) {
	var next uint64
	for _, r := range doc.Regions {
		next = max(next, r.ID)
	}
	rows := make([]regionRow, 0, len(doc.Regions))
	seen := make(map[uint64]struct{}, len(doc.Regions))
	for _, dto := range doc.Regions {
		if _, dup := seen[dto.ID]; dto.ID == 0 || dup {
			next++
			dto.ID = next
		}
		seen[dto.ID] = struct{}{}
		row, err := toRow(dto)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
