package olap

import (
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"
)

// rowGroupStat is one row group's statistics, the unit range_query and
// estimate_row_count plan against without touching the Parquet file.
type rowGroupStat struct {
	RowCount  int64 `json:"row_count"`
	MinTS     int64 `json:"min_ts"`
	MaxTS     int64 `json:"max_ts"`
}

// manifest is the sidecar written next to every OLAP file (same path plus
// ".manifest.json"). It exists purely to let this package's reader plan
// row-group skipping without parsing the Parquet footer's own statistics
// encoding; any other Parquet reader can still open the data file directly
// and ignore this file entirely.
type manifest struct {
	RowGroups []rowGroupStat `json:"row_groups"`
	PreZstd   bool           `json:"pre_zstd"`
}

func manifestPath(dataPath string) string {
	return dataPath + ".manifest.json"
}

func writeManifest(dataPath string, m manifest) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("olap: marshal manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath(dataPath), buf, 0o644); err != nil {
		return fmt.Errorf("olap: write manifest: %w", err)
	}
	return nil
}

func readManifest(dataPath string) (manifest, error) {
	buf, err := os.ReadFile(manifestPath(dataPath))
	if err != nil {
		return manifest{}, fmt.Errorf("olap: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return manifest{}, fmt.Errorf("olap: unmarshal manifest: %w", err)
	}
	return m, nil
}

// overlapping returns the indices of row groups whose [MinTS, MaxTS] range
// intersects [loTS, hiTS].
func (m manifest) overlapping(loTS, hiTS int64) []int {
	var out []int
	for i, rg := range m.RowGroups {
		if rg.MinTS <= hiTS && loTS <= rg.MaxTS {
			out = append(out, i)
		}
	}
	return out
}
