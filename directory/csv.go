package directory

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/Kelbie/georelay/logging"
)

// parseList parses a "host,lat,lon" CSV list into directory entries. Header
// rows, rows with missing or unparsable fields and duplicate entries are
// skipped; whatever remains is returned in row order.
func parseList(data string) []Entry {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	entries := make([]Entry, 0, 64)
	seen := make(map[Entry]struct{})
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			logging.Warn("Directory: skipping malformed row %d: %v", row, err)
			continue
		}
		if len(record) == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(record[0]), "relay url") {
			// header row
			continue
		}
		if len(record) < 3 {
			logging.Warn("Directory: skipping row %d: want host,lat,lon but got %d fields", row, len(record))
			continue
		}

		host := normalizeHost(record[0])
		if host == "" {
			logging.Warn("Directory: skipping row %d: empty host", row)
			continue
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if latErr != nil || lonErr != nil {
			logging.Warn("Directory: skipping row %d (%s): unparsable coordinates", row, host)
			continue
		}

		entry := Entry{Host: host, Lat: lat, Lon: lon}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		entries = append(entries, entry)
	}
	return entries
}

// normalizeHost strips a leading URL scheme and a trailing slash so that
// entries compare by bare hostname.
func normalizeHost(raw string) string {
	host := strings.TrimSpace(raw)
	for _, scheme := range []string{"wss://", "ws://", "https://", "http://"} {
		if strings.HasPrefix(host, scheme) {
			host = strings.TrimPrefix(host, scheme)
			break
		}
	}
	return strings.TrimSuffix(host, "/")
}
