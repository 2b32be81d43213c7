package reconcile

import (
	"context"
	"fmt"
	"strings"

	"dq-engine/internal/catalog"
	"dq-engine/internal/storage"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DiscoveredSource is one data source reported by an inventory of systems.
type DiscoveredSource struct {
	Name           string
	Type           string
	ConnectionInfo map[string]any
}

type SourceResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Revived int `json:"revived"`
	Deleted int `json:"deleted"`
}

// ReconcileSources upserts data sources by name and soft-deletes the ones no
// longer reported. An empty non-confident report deletes nothing.
func (r *Reconciler) ReconcileSources(ctx context.Context, reported []DiscoveredSource, confident bool) (*SourceResult, error) {
	res := &SourceResult{}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []catalog.DataSource
		if err := tx.Find(&stored).Error; err != nil {
			return fmt.Errorf("load data sources: %w", err)
		}
		byName := make(map[string]*catalog.DataSource, len(stored))
		var active int64
		for i := range stored {
			byName[stored[i].Name] = &stored[i]
			if !stored[i].IsDeleted {
				active++
			}
		}

		if len(reported) == 0 && !confident && active > 0 {
			return &DiscoveryEmptyError{Existing: active}
		}

		seen := map[string]bool{}
		for _, d := range reported {
			name := strings.TrimSpace(d.Name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			dsType := catalog.ParseDataSourceType(strings.ToLower(strings.TrimSpace(d.Type)))
			info := datatypes.JSONMap(d.ConnectionInfo)

			existing := byName[name]
			if existing == nil {
				ds := catalog.DataSource{Name: name, Type: dsType, ConnectionInfo: info}
				if err := tx.Create(&ds).Error; err != nil {
					return fmt.Errorf("create data source %s: %w", name, err)
				}
				res.Created++
				continue
			}

			if !existing.IsDeleted && existing.Type == dsType && sameJSON(existing.ConnectionInfo, d.ConnectionInfo) {
				continue
			}
			if err := tx.Model(existing).Updates(map[string]any{
				"type":            dsType,
				"connection_info": info,
				"is_deleted":      false,
			}).Error; err != nil {
				return fmt.Errorf("update data source %s: %w", name, err)
			}
			if existing.IsDeleted {
				res.Revived++
			} else {
				res.Updated++
			}
		}

		for _, ds := range stored {
			if seen[ds.Name] || ds.IsDeleted {
				continue
			}
			if err := tx.Model(&catalog.DataSource{}).Where("id = ?", ds.ID).Update("is_deleted", true).Error; err != nil {
				return fmt.Errorf("delete data source %s: %w", ds.Name, err)
			}
			res.Deleted++
		}
		return nil
	})
	if err != nil {
		return nil, storage.Classify("reconcile sources", err)
	}
	return res, nil
}
