package preprocess

import (
	"strings"

	"usageprep/internal/event"
)

const (
	DeviceAmazonFire = "Amazon Fire"
	DeviceAndroid    = "Android"
)

// System packages only present on Amazon Fire tablets.
var amazonPackages = []string{
	"com.amazon.redstone",
	"com.amazon.firelauncher",
	"com.amazon.imp",
	"com.amazon.alta.h2clientservice",
	"com.amazon.media.session.monitor",
}

// DetectDeviceModel guesses the device family from the packages in use.
func DetectDeviceModel(events []event.Event) string {
	for _, e := range events {
		for _, pkg := range amazonPackages {
			if strings.Contains(e.AppPackageName, pkg) {
				return DeviceAmazonFire
			}
		}
	}
	return DeviceAndroid
}
