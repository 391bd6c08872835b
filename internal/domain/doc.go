// Package domain models daily PRISM precipitation rasters and the per-cell
// rainfall features derived from them.
//
// # Data Source
//
// Daily precipitation grids come from the PRISM Climate Group time series
// archive, e.g. https://data.prism.oregonstate.edu/time_series/us/an/800m.
// Each day is published as a zip archive wrapping a single GeoTIFF:
//
//	<base>/<variable>/<timescale>/<YYYY>/<prefix><YYYYMMDD>.zip
//	e.g. .../ppt/daily/2025/prism_ppt_us_30s_20251017.zip
//
// Recent days are provisional and get re-published in place, so the archive
// for a given date can change after it was first downloaded. The HTTP
// metadata (ETag, Last-Modified, Content-Length) is the only cheap signal of
// such a change; see [Fingerprint].
//
// # Units and Sentinels
//
// Values are daily totals in millimetres. The raster declares a no-data
// sentinel (GDAL_NODATA, typically -9999) which is converted to NaN on read.
// NaN means "missing", never zero: sums skip it, maxima over an all-missing
// slice stay NaN.
//
// # Dates
//
// All dates are calendar days normalized to midnight UTC by [Day]. Cache file
// names embed YYYYMMDD; output directories and manifests use YYYY-MM-DD.
//
// # Static Attributes
//
// Terrain attributes (elevation in metres, slope in degrees, soil depth in
// centimetres) come from a pre-built table keyed by projected x/y. Soil
// depth at or above 200 cm marks a cell as deep soil.
package domain
