package mapsync

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// DetailsPath prefixes the property details link.
const DetailsPath = "/search"

const (
	defaultName    = "Property"
	defaultAddress = "Western Region"
	inquiryName    = "this property"
	currency       = "GH₵"
)

// Popup is the content shown when a marker is opened.
type Popup struct {
	Title      string  `json:"title"`
	Price      string  `json:"price"`
	Address    string  `json:"address"`
	Icon       string  `json:"icon"`
	Beds       int     `json:"beds,omitempty"`
	Baths      float64 `json:"baths,omitempty"`
	DetailsURL string  `json:"detailsUrl"`
	InquiryURL string  `json:"inquiryUrl"`
	Hot        bool    `json:"hot"`
	Favorite   bool    `json:"favorite"`
}

// PopupFor builds the popup for p. Favorite is left false; the engine
// overlays it.
func PopupFor(p models.Property) Popup {
	title := strings.TrimSpace(p.Name)
	if title == "" {
		title = defaultName
	}

	address := strings.TrimSpace(p.Location.Address)
	if address == "" {
		address = defaultAddress
	}

	return Popup{
		Title:      title,
		Price:      FormatPrice(p.PricePerMonth),
		Address:    address,
		Icon:       StyleFor(p.PropertyType).Icon,
		Beds:       p.Beds,
		Baths:      p.Baths,
		DetailsURL: fmt.Sprintf("%s/%d", DetailsPath, p.ID),
		InquiryURL: inquiryURL(p.Name),
		Hot:        IsHot(p.PricePerMonth),
	}
}

// FormatPrice renders a monthly price in cedis with English digit grouping,
// e.g. "GH₵ 1,200". Unknown prices render as "GH₵ N/A".
func FormatPrice(price float64) string {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return currency + " N/A"
	}

	// Printers are not safe for concurrent use.
	printer := message.NewPrinter(language.English)
	if price == math.Trunc(price) {
		return printer.Sprintf("%s %d", currency, int64(price))
	}
	return printer.Sprintf("%s %.2f", currency, price)
}

// inquiryURL is a WhatsApp deep link with a prefilled message.
func inquiryURL(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = inquiryName
	}
	u := url.URL{
		Scheme:   "https",
		Host:     "wa.me",
		Path:     "/",
		RawQuery: url.Values{"text": {"Hello, I'm interested in " + name}}.Encode(),
	}
	return u.String()
}
