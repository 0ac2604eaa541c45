package regiondata

import (
	"fmt"
	"log/slog"

	"github.com/udisondev/regionsys/internal/region"
)

// Apply queues creation of every region in doc. Regions become visible after
// the next tick. On error, regions queued so far are kept and their IDs returned.
func Apply(reg *region.Registry, doc Document) ([]region.ID, error) {
	ids := make([]region.ID, 0, len(doc.Regions))
	for i, dto := range doc.Regions {
		spec, err := dto.Spec()
		if err != nil {
			return ids, fmt.Errorf("region #%d: %w", i, err)
		}
		id, err := reg.Create(spec)
		if err != nil {
			return ids, fmt.Errorf("region #%d: %w", i, err)
		}
		ids = append(ids, id)
	}
	slog.Info("region document applied", "regions", len(ids))
	return ids, nil
}

// Export describes every region of a snapshot, in ID order.
func Export(s *region.Snapshot) (Document, error) {
	infos := s.Regions().Value
	doc := Document{
		Version:  Version,
		AreaRoot: s.AreaRoot().String(),
		Regions:  make([]RegionDTO, 0, len(infos)),
	}
	for _, info := range infos {
		dto, err := FromInfo(info)
		if err != nil {
			return Document{}, fmt.Errorf("exporting regions: %w", err)
		}
		doc.Regions = append(doc.Regions, dto)
	}
	return doc, nil
}
