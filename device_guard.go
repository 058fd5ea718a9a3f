package meadow

import (
	"fmt"
	"reflect"
)

// DeviceTag marks that a device module has been installed into the App.
// Only one device may be installed at a time.
type DeviceTag struct {
	Name string
}

// ensureSingleDevice panics if a different device is already installed.
func ensureSingleDevice(app *App, name string) {
	if app == nil {
		panic("ensureSingleDevice: app is nil")
	}
	t := reflect.TypeOf((*DeviceTag)(nil)).Elem()
	if res, ok := app.resources[t]; ok {
		tag, ok := res.(*DeviceTag)
		if !ok {
			panic("DeviceTag resource present with unexpected type")
		}
		if tag.Name != name {
			app.Logger().Errorf("Multiple devices installed: %s and %s", tag.Name, name)
			panic(fmt.Sprintf("Multiple devices installed: %s and %s", tag.Name, name))
		}
		return
	}
	app.addResources(&DeviceTag{Name: name})
}
