package discovery

// Locations are the Tarkwa neighbourhoods offered as quick search chips.
var Locations = []string{
	"New Atuabo",
	"Tamso",
	"Cyanide",
	"UMaT Hostels",
	"Kwabedu",
	"Low Cost",
	"Brahabebom",
	"Nsuta",
	"Bonsa",
	"Aboso",
	"Bonsawire",
	"Kyekyewere",
	"Efuanta",
	"Akoon",
	"Bankyim",
}
