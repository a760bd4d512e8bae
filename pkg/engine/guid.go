package engine

import (
	"strconv"
	"strings"
)

// Identity names the device in engine identifiers.
type Identity struct {
	Vendor   string
	Product  string
	Serial   string
	Location string
}

// GUID composes the identifier an engine is published under. The serial number is used when
// the device has one, the bus location otherwise.
func (id Identity) GUID(ifaces []uint8) string {
	where := id.Serial
	if where == "" {
		where = id.Location
	}
	list := make([]string, 0, len(ifaces))
	for _, n := range ifaces {
		list = append(list, strconv.Itoa(int(n)))
	}
	return strings.Join([]string{"AppleUSBAudioEngine", id.Vendor, id.Product, where, strings.Join(list, ",")}, ":")
}
