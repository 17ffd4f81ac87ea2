package domain

// canonicalNames maps instrument-native AERONET labels to the short
// "<Quantity>_<wavelength>nm" names every later stage addresses.
var canonicalNames = map[string]string{
	"440-870_Angstrom_Exponent": "AE_440_870nm",
	"380-500_Angstrom_Exponent": "AE_380_500nm",
	"440-675_Angstrom_Exponent": "AE_440_675nm",
	"500-870_Angstrom_Exponent": "AE_500_870nm",
	"340-440_Angstrom_Exponent": "AE_340_440nm",

	"Single_Scattering_Albedo[440nm]":  "SSA_440nm",
	"Single_Scattering_Albedo[675nm]":  "SSA_675nm",
	"Single_Scattering_Albedo[870nm]":  "SSA_870nm",
	"Single_Scattering_Albedo[1020nm]": "SSA_1020nm",

	// Phase function at 180° scattering angle.
	"180.000000[440nm]":  "pfn180_440nm",
	"180.000000[675nm]":  "pfn180_675nm",
	"180.000000[870nm]":  "pfn180_870nm",
	"180.000000[1020nm]": "pfn180_1020nm",

	"Absorption_AOD[440nm]":  "AAOD_440nm",
	"Absorption_AOD[675nm]":  "AAOD_675nm",
	"Absorption_AOD[870nm]":  "AAOD_870nm",
	"Absorption_AOD[1020nm]": "AAOD_1020nm",

	"Absorption_Angstrom_Exponent_440-870nm": "AAE_440-870nm",

	"AOD_Extinction-Total[440nm]":  "EAOD_Total_440nm",
	"AOD_Extinction-Total[675nm]":  "EAOD_Total_675nm",
	"AOD_Extinction-Total[870nm]":  "EAOD_Total_870nm",
	"AOD_Extinction-Total[1020nm]": "EAOD_Total_1020nm",

	"AOD_Extinction-Fine[440nm]":  "EAOD_Fine_440nm",
	"AOD_Extinction-Fine[675nm]":  "EAOD_Fine_675nm",
	"AOD_Extinction-Fine[870nm]":  "EAOD_Fine_870nm",
	"AOD_Extinction-Fine[1020nm]": "EAOD_Fine_1020nm",

	"AOD_Extinction-Coarse[440nm]":  "EAOD_Coarse_440nm",
	"AOD_Extinction-Coarse[675nm]":  "EAOD_Coarse_675nm",
	"AOD_Extinction-Coarse[870nm]":  "EAOD_Coarse_870nm",
	"AOD_Extinction-Coarse[1020nm]": "EAOD_Coarse_1020nm",

	"Extinction_Angstrom_Exponent_440-870nm-Total": "EAE_440-870nm",

	"Depolarization_Ratio[440nm]":  "DepRatio_440nm",
	"Depolarization_Ratio[675nm]":  "DepRatio_675nm",
	"Depolarization_Ratio[870nm]":  "DepRatio_870nm",
	"Depolarization_Ratio[1020nm]": "DepRatio_1020nm",
}

// CanonicalName returns the canonical label for a native column name, or the
// name itself when it has no mapping.
func CanonicalName(native string) string {
	if c, ok := canonicalNames[native]; ok {
		return c
	}
	return native
}

// CanonicalizeColumns renames every mapped column in place. A mapping whose
// source is absent, or whose target already exists, is skipped without
// touching any other column. It returns the number of columns renamed.
func CanonicalizeColumns(t *Table) int {
	renamed := 0
	for _, name := range t.Columns() {
		target, ok := canonicalNames[name]
		if !ok {
			continue
		}
		if t.Rename(name, target) {
			renamed++
		}
	}
	return renamed
}
