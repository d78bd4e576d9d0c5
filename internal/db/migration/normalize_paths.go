package migration

import "path/filepath"

// Early builds stored notebook paths exactly as the caller typed them, so
// "./nb.jl" and "nb.jl" produced separate history rows. Clean stored paths
// once; the store cleans on write since.
func init() {
	register("normalize_notebook_paths", func(m *Migration) error {
		if !m.DB.Migrator().HasTable("notebook_records") {
			return nil
		}
		var paths []string
		if err := m.DB.Table("notebook_records").Pluck("path", &paths).Error; err != nil {
			return err
		}
		for _, p := range paths {
			cleaned := filepath.Clean(p)
			if cleaned == p {
				continue
			}
			m.Log("normalizing ", p, " -> ", cleaned)
			if err := m.DB.Exec(
				`UPDATE OR IGNORE notebook_records SET path = ? WHERE path = ?`, cleaned, p,
			).Error; err != nil {
				return err
			}
			if err := m.DB.Exec(
				`DELETE FROM notebook_records WHERE path = ?`, p,
			).Error; err != nil {
				return err
			}
			if err := m.DB.Exec(
				`UPDATE execution_records SET notebook_path = ? WHERE notebook_path = ?`, cleaned, p,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
