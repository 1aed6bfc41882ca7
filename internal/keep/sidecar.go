package keep

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Sidecar is the metadata record stored next to an archive set: the
// descriptor that was backed up and when.
type Sidecar struct {
	App        Application
	BackedUpAt time.Time
}

const sidecarFields = 10

// EncodeSidecar writes s as a single tab-separated line:
//
//	packageID name versionName dataDir packageDir icon favorite local cloud backedUpAt
func EncodeSidecar(w io.Writer, s *Sidecar) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	a := s.App
	record := []string{
		a.PackageID,
		a.Name,
		a.VersionName,
		a.DataDir,
		a.PackageDir,
		a.Icon,
		strconv.FormatBool(a.IsFavorite),
		strconv.FormatBool(a.IsLocal),
		strconv.FormatBool(a.IsCloud),
		s.BackedUpAt.UTC().Format(time.RFC3339),
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("writing sidecar record: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// DecodeSidecar parses a record written by EncodeSidecar.
func DecodeSidecar(r io.Reader) (*Sidecar, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = sidecarFields
	record, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading sidecar record: %w", err)
	}

	flags := make([]bool, 3)
	for i := range flags {
		flags[i], err = strconv.ParseBool(record[6+i])
		if err != nil {
			return nil, fmt.Errorf("parsing sidecar flag %d: %w", i, err)
		}
	}
	ts, err := time.Parse(time.RFC3339, record[9])
	if err != nil {
		return nil, fmt.Errorf("parsing sidecar timestamp: %w", err)
	}

	return &Sidecar{
		App: Application{
			PackageID:   record[0],
			Name:        record[1],
			VersionName: record[2],
			DataDir:     record[3],
			PackageDir:  record[4],
			Icon:        record[5],
			IsFavorite:  flags[0],
			IsLocal:     flags[1],
			IsCloud:     flags[2],
		},
		BackedUpAt: ts,
	}, nil
}

// WriteSidecarFile writes s to path, replacing any existing file.
func WriteSidecarFile(path string, s *Sidecar) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating sidecar: %w", err)
	}
	if err := EncodeSidecar(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSidecarFile reads the sidecar stored at path.
func ReadSidecarFile(path string) (*Sidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sidecar: %w", err)
	}
	defer f.Close()
	return DecodeSidecar(f)
}
