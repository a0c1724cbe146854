package directory

import _ "embed"

// bundledCSV ships with the binary and seeds the directory when no cached
// copy is available.
//
//go:embed relays.csv
var bundledCSV string
