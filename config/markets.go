package config

import "strings"

// Market is one geographic market walked by the market cycle.
type Market struct {
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id" json:"id"`
}

// DefaultMarkets is the ordered market list used when no markets file is configured.
var DefaultMarkets = []Market{
	{Name: "Columbus", ID: "6_4664"},
	{Name: "Cincinnati", ID: "6_3879"},
	{Name: "Orlando", ID: "6_13655"},
	{Name: "Jacksonville", ID: "6_8907"},
	{Name: "Modesto", ID: "6_12359"},
	{Name: "Houston", ID: "6_8903"},
	{Name: "San Jose", ID: "6_17420"},
	{Name: "Fresno", ID: "6_6904"},
	{Name: "Long Beach", ID: "6_10940"},
	{Name: "Miami", ID: "6_11458"},
	{Name: "Henderson", ID: "6_8147"},
	{Name: "Los Angeles", ID: "6_11203"},
	{Name: "Philadelphia", ID: "6_15502"},
	{Name: "Memphis", ID: "6_12260"},
	{Name: "San Diego", ID: "6_16904"},
	{Name: "Summerville", ID: "6_17959"},
	{Name: "San Antonio", ID: "6_16657"},
	{Name: "Nashville", ID: "6_13415"},
	{Name: "Sacramento", ID: "6_16409"},
	{Name: "Phoenix", ID: "6_14240"},
	{Name: "San Bernardino", ID: "6_16659"},
	{Name: "Detroit", ID: "6_5665"},
	{Name: "Atlanta", ID: "6_30756"},
	{Name: "Chicago", ID: "6_29470"},
	{Name: "Charlotte", ID: "6_3105"},
	{Name: "Mesa", ID: "6_11736"},
	{Name: "Denver", ID: "6_5155"},
	{Name: "Tampa", ID: "6_18142"},
	{Name: "Corpus Christi", ID: "6_35781"},
	{Name: "San Francisco", ID: "6_17151"},
	{Name: "New York", ID: "6_30749"},
	{Name: "Dallas", ID: "6_30794"},
	{Name: "Indianapolis", ID: "6_9170"},
	{Name: "Washington", ID: "6_12839"},
	{Name: "Oklahoma City", ID: "6_14237"},
	{Name: "Las Vegas", ID: "6_10201"},
	{Name: "Louisville", ID: "6_12262"},
	{Name: "Spokane", ID: "6_17154"},
	{Name: "Austin", ID: "6_30818"},
	{Name: "Richmond", ID: "6_17149"},
	{Name: "Dayton", ID: "6_5413"},
	{Name: "Omaha", ID: "6_9417"},
	{Name: "Anaheim", ID: "6_517"},
	{Name: "Scottsdale", ID: "6_16660"},
	{Name: "Baton Rouge", ID: "6_1336"},
	{Name: "Minneapolis", ID: "6_10943"},
	{Name: "Greensboro", ID: "6_7161"},
	{Name: "Boise", ID: "6_2287"},
	{Name: "St. Louis", ID: "6_16661"},
	{Name: "Seattle", ID: "6_16163"},
	{Name: "Fort Worth", ID: "6_30827"},
	{Name: "Plano", ID: "6_30868"},
	{Name: "St. Petersburg", ID: "6_16164"},
	{Name: "Tucson", ID: "6_19459"},
	{Name: "Portland", ID: "6_30772"},
	{Name: "Winston-Salem", ID: "6_19017"},
	{Name: "Bakersfield", ID: "6_953"},
	{Name: "Milwaukee", ID: "6_35759"},
	{Name: "Reno", ID: "6_15627"},
	{Name: "Chandler", ID: "6_3104"},
	{Name: "Huntsville", ID: "6_9408"},
	{Name: "Colorado Springs", ID: "6_4147"},
	{Name: "Oakland", ID: "6_13654"},
	{Name: "Virginia Beach", ID: "6_20418"},
	{Name: "Irvine", ID: "6_9361"},
	{Name: "Gilbert", ID: "6_6998"},
	{Name: "Baltimore", ID: "6_1073"},
	{Name: "Tacoma", ID: "6_17887"},
	{Name: "Birmingham", ID: "6_1823"},
	{Name: "Fort Wayne", ID: "6_6438"},
	{Name: "Riverside", ID: "6_15935"},
	{Name: "Raleigh", ID: "6_35711"},
	{Name: "Lexington", ID: "6_11746"},
	{Name: "Chula Vista", ID: "6_3494"},
	{Name: "Garland", ID: "6_30821"},
	{Name: "Cleveland", ID: "6_4145"},
	{Name: "Kansas City", ID: "6_35751"},
	{Name: "Lancaster", ID: "6_10233"},
	{Name: "New Orleans", ID: "6_14233"},
	{Name: "Arlington", ID: "6_21282"},
	{Name: "Stockton", ID: "6_19009"},
}

// MarketIndex returns the position of the named market, or -1.
func MarketIndex(markets []Market, name string) int {
	for i, m := range markets {
		if strings.EqualFold(m.Name, name) {
			return i
		}
	}
	return -1
}
