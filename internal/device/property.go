package device

import "strings"

// Properties is the GATT characteristic property bit set
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

var propertyNames = []struct {
	prop Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "authenticated-signed-writes"},
	{PropExtended, "extended-properties"},
}

// Has reports whether every bit in p2 is set
func (p Properties) Has(p2 Properties) bool {
	return p&p2 == p2
}

// Names returns the human-readable property names in bit order
func (p Properties) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.prop != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	return strings.Join(p.Names(), ", ")
}
