package session

import (
	"fmt"

	"github.com/srg/surronlog/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Profile indexes discovered services and characteristics by normalized UUID while
// keeping discovery order for display.
type Profile struct {
	services *orderedmap.OrderedMap[string, *profileService]
}

type profileService struct {
	service device.Service
	chars   *orderedmap.OrderedMap[string, device.Characteristic]
}

// NewProfile builds the index. The first occurrence of a duplicated UUID wins.
func NewProfile(services []device.Service) *Profile {
	p := &Profile{services: orderedmap.New[string, *profileService]()}

	for _, svc := range services {
		if svc == nil {
			continue
		}
		uuid := device.NormalizeUUID(svc.UUID())
		if _, exists := p.services.Get(uuid); exists {
			continue
		}

		ps := &profileService{
			service: svc,
			chars:   orderedmap.New[string, device.Characteristic](),
		}
		for _, char := range svc.Characteristics() {
			if char == nil {
				continue
			}
			ps.chars.Set(device.NormalizeUUID(char.UUID()), char)
		}
		p.services.Set(uuid, ps)
	}

	return p
}

// Len returns the number of distinct services
func (p *Profile) Len() int {
	return p.services.Len()
}

// HasService reports whether the service was discovered
func (p *Profile) HasService(serviceUUID string) bool {
	_, ok := p.services.Get(device.NormalizeUUID(serviceUUID))
	return ok
}

// Characteristic resolves a characteristic, returning a ProtocolError when either
// the service or the characteristic is missing.
func (p *Profile) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	svcKey := device.NormalizeUUID(serviceUUID)
	ps, ok := p.services.Get(svcKey)
	if !ok {
		return nil, &device.ProtocolError{Resource: "service", UUIDs: []string{svcKey}}
	}

	charKey := device.NormalizeUUID(charUUID)
	char, ok := ps.chars.Get(charKey)
	if !ok {
		return nil, &device.ProtocolError{Resource: "characteristic", UUIDs: []string{svcKey, charKey}}
	}
	return char, nil
}

// InfoLines renders the profile as the device-information dump shown after connecting
func (p *Profile) InfoLines() []string {
	lines := []string{"=== Device info ==="}

	for svc := p.services.Oldest(); svc != nil; svc = svc.Next() {
		lines = append(lines, fmt.Sprintf("Service: %s", svc.Key))
		for char := svc.Value.chars.Oldest(); char != nil; char = char.Next() {
			lines = append(lines, fmt.Sprintf("  Characteristic: %s (%s)", char.Key, char.Value.Properties()))
		}
	}

	return lines
}
