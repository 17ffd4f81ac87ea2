// Package domain models AERONET ground-based sun photometer retrievals and the
// transformations that turn raw per-instrument files into one derived,
// time-indexed, multi-product table.
//
// # Data Source
//
// Files are AERONET Version 3 downloads (level 1.0, 1.5 or 2.0), staged locally
// before a run. Two product families are handled:
//
//	directsun: direct-sun AOD per wavelength plus Ångström exponents over
//	           wavelength brackets, e.g. "AOD_440nm", "440-675_Angstrom_Exponent".
//	inversion: almucantar inversion products (SSA, phase function, absorption
//	           AOD, extinction AOD, depolarization), e.g.
//	           "Single_Scattering_Albedo[440nm]", "180.000000[440nm]".
//
// Each file starts with a metadata block (six lines for V3 directsun, more for
// some inversion products) followed by a comma-delimited header row. Columns
// are selected positionally because instrument files carry dozens of columns
// that the pipeline never uses.
//
// # Conventions
//
// Missing values:
//
//	"-999." is the AERONET sentinel for a missing measurement. Exact zero is
//	treated as missing by default (see [ZeroPolicy]); this mirrors historical
//	behavior and discards legitimate zero readings such as a zero
//	depolarization ratio, so [ZeroValid] is available.
//
// Time format:
//
//	Raw files split the timestamp into "Date(dd:mm:yyyy)" and
//	"Time(hh:mm:ss)", both UTC. Cleaning combines them into a sortable
//	"timestamp" column ("2006-01-02 15:04:05") placed right after the
//	"AERONET_Site" column.
//
// Canonical names:
//
//	After the multi-product join, instrument-native labels are renamed to
//	"<Quantity>_<wavelength>nm" (see [CanonicalName]). Derivations and summary
//	views address columns only by these canonical names and fail with
//	[ErrMissingDependency] when one is absent.
//
// # Numeric Output
//
// Every numeric column is written with six decimal places and never in
// scientific notation. Missing values are written as empty fields.
package domain
