package shipping

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Zone groups regions that share a delivery rate.
type Zone string

const (
	ZoneNorth Zone = "north"
	ZoneSouth Zone = "south"
	ZoneEast  Zone = "east"
	ZoneWest  Zone = "west"
)

// Valid reports whether z is one of the four delivery zones.
func (z Zone) Valid() bool {
	switch z {
	case ZoneNorth, ZoneSouth, ZoneEast, ZoneWest:
		return true
	}
	return false
}

// Region is an administrative region (wilaya) customers can ship to.
type Region struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Zone Zone   `json:"zone"`
}

// regions is ordered by official wilaya code. Do not mutate.
var regions = []Region{
	{1, "Adrar", ZoneSouth},
	{2, "Chlef", ZoneNorth},
	{3, "Laghouat", ZoneSouth},
	{4, "Oum El Bouaghi", ZoneEast},
	{5, "Batna", ZoneEast},
	{6, "Béjaïa", ZoneNorth},
	{7, "Biskra", ZoneEast},
	{8, "Béchar", ZoneWest},
	{9, "Blida", ZoneNorth},
	{10, "Bouira", ZoneNorth},
	{11, "Tamanrasset", ZoneSouth},
	{12, "Tébessa", ZoneEast},
	{13, "Tlemcen", ZoneWest},
	{14, "Tiaret", ZoneWest},
	{15, "Tizi Ouzou", ZoneNorth},
	{16, "Algiers", ZoneNorth},
	{17, "Djelfa", ZoneNorth},
	{18, "Jijel", ZoneEast},
	{19, "Sétif", ZoneEast},
	{20, "Saïda", ZoneWest},
	{21, "Skikda", ZoneEast},
	{22, "Sidi Bel Abbès", ZoneWest},
	{23, "Annaba", ZoneEast},
	{24, "Guelma", ZoneEast},
	{25, "Constantine", ZoneEast},
	{26, "Médéa", ZoneNorth},
	{27, "Mostaganem", ZoneWest},
	{28, "M'Sila", ZoneNorth},
	{29, "Mascara", ZoneWest},
	{30, "Ouargla", ZoneSouth},
	{31, "Oran", ZoneWest},
	{32, "El Bayadh", ZoneWest},
	{33, "Illizi", ZoneSouth},
	{34, "Bordj Bou Arréridj", ZoneNorth},
	{35, "Boumerdès", ZoneNorth},
	{36, "El Tarf", ZoneEast},
	{37, "Tindouf", ZoneSouth},
	{38, "Tissemsilt", ZoneNorth},
	{39, "El Oued", ZoneSouth},
	{40, "Khenchela", ZoneEast},
	{41, "Souk Ahras", ZoneEast},
	{42, "Tipaza", ZoneNorth},
	{43, "Mila", ZoneEast},
	{44, "Aïn Defla", ZoneNorth},
	{45, "Naâma", ZoneWest},
	{46, "Aïn Témouchent", ZoneWest},
	{47, "Ghardaïa", ZoneSouth},
	{48, "Relizane", ZoneWest},
	{49, "Timimoun", ZoneSouth},
	{50, "Bordj Badji Mokhtar", ZoneSouth},
	{51, "Ouled Djellal", ZoneEast},
	{52, "Béni Abbès", ZoneSouth},
	{53, "In Salah", ZoneSouth},
	{54, "In Guezzam", ZoneSouth},
	{55, "Touggourt", ZoneSouth},
	{56, "Djanet", ZoneSouth},
	{57, "El M'Ghair", ZoneSouth},
	{58, "El Meniaa", ZoneSouth},
}

var regionIndex = buildRegionIndex()

func buildRegionIndex() map[string]Region {
	idx := make(map[string]Region, len(regions)*2)
	for _, r := range regions {
		idx[foldName(r.Name)] = r
		idx[strconv.Itoa(r.Code)] = r
	}
	// "Alger" is the name printed on most local addresses.
	idx[foldName("Alger")] = idx["16"]
	return idx
}

// Regions returns a copy of the region table ordered by code.
func Regions() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	return out
}

// LookupRegion resolves a region by name or numeric code. Matching ignores
// case, surrounding whitespace and diacritics.
func LookupRegion(value string) (Region, bool) {
	key := foldName(value)
	if key == "" {
		return Region{}, false
	}
	r, ok := regionIndex[key]
	return r, ok
}

func foldName(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(value))
	if err != nil {
		folded = strings.TrimSpace(value)
	}
	folded = strings.ToLower(folded)
	if n, err := strconv.Atoi(folded); err == nil {
		return strconv.Itoa(n)
	}
	return strings.Join(strings.Fields(folded), " ")
}
