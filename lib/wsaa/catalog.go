// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsaa

import (
	"fmt"
	"regexp"
	"time"
)

// Environment selects the authority instance and the destination DN.
type Environment string

const (
	// Testing is the homologation environment (wsaahomo).
	Testing Environment = "testing"

	// Production is the live environment.
	Production Environment = "production"
)

// ParseEnvironment validates an environment name.
func ParseEnvironment(name string) (Environment, error) {
	switch Environment(name) {
	case Testing, Production:
		return Environment(name), nil
	default:
		return "", fmt.Errorf("wsaa: unknown environment %q (expected %q or %q)", name, Testing, Production)
	}
}

// Authority endpoints for each environment.
const (
	TestingAuthorityURL    = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	ProductionAuthorityURL = "https://wsaa.afip.gov.ar/ws/services/LoginCms"
)

// Destination distinguished names for each environment. The authority
// rejects a TRA whose destination does not name it (xml.destination.invalid).
const (
	TestingDestination    = "cn=wsaahomo,o=afip,c=ar,serialNumber=CUIT 33693450239"
	ProductionDestination = "cn=wsaa,o=afip,c=ar,serialNumber=CUIT 33693450239"
)

// AuthorityURL returns the LoginCms endpoint for the environment.
func (environment Environment) AuthorityURL() string {
	if environment == Production {
		return ProductionAuthorityURL
	}
	return TestingAuthorityURL
}

// Destination returns the authority DN for the environment.
func (environment Environment) Destination() string {
	if environment == Production {
		return ProductionDestination
	}
	return TestingDestination
}

// ArgentinaLocation returns America/Argentina/Buenos_Aires, or a fixed
// UTC-03:00 zone when the tz database is unavailable. Argentina has not
// observed daylight saving since 2009, so the two agree.
func ArgentinaLocation() *time.Location {
	location, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		return time.FixedZone("ART", -3*60*60)
	}
	return location
}

// Service is an entry in the catalog of services a ticket can be
// requested for.
type Service struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"name"`
	Description        string `json:"description,omitempty"`
	TestingEndpoint    string `json:"testing_endpoint,omitempty"`
	ProductionEndpoint string `json:"production_endpoint,omitempty"`
}

// Endpoint returns the service's own endpoint in the environment. The
// ticket is not used against it here; it is carried for callers.
func (service Service) Endpoint(environment Environment) string {
	if environment == Production {
		return service.ProductionEndpoint
	}
	return service.TestingEndpoint
}

const (
	minServiceIDLength = 3
	maxServiceIDLength = 32
)

var serviceIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateServiceID checks the lexical rules the authority applies to
// the TRA service element. It does not consult any catalog.
func ValidateServiceID(id string) error {
	if len(id) < minServiceIDLength || len(id) > maxServiceIDLength {
		return newError(KindInvalidServiceID, "service id %q must be %d to %d characters", id, minServiceIDLength, maxServiceIDLength)
	}
	if !serviceIDPattern.MatchString(id) {
		return newError(KindInvalidServiceID, "service id %q must start with a letter and contain only letters, digits, and underscores", id)
	}
	return nil
}

// Catalog is the read-only set of known services, in declaration order.
type Catalog struct {
	services map[string]Service
	order    []string
}

// NewCatalog builds a catalog. Every id must pass ValidateServiceID and
// appear once.
func NewCatalog(services ...Service) (*Catalog, error) {
	catalog := &Catalog{services: make(map[string]Service, len(services))}
	for _, service := range services {
		if err := ValidateServiceID(service.ID); err != nil {
			return nil, err
		}
		if _, exists := catalog.services[service.ID]; exists {
			return nil, fmt.Errorf("wsaa: duplicate service %q in catalog", service.ID)
		}
		if service.DisplayName == "" {
			service.DisplayName = service.ID
		}
		catalog.services[service.ID] = service
		catalog.order = append(catalog.order, service.ID)
	}
	return catalog, nil
}

// With returns a new catalog with the given services added, replacing
// existing entries that share an id. The receiver is not modified.
func (catalog *Catalog) With(services ...Service) (*Catalog, error) {
	merged := make([]Service, 0, len(catalog.order)+len(services))
	replaced := make(map[string]Service, len(services))
	for _, service := range services {
		replaced[service.ID] = service
	}
	for _, id := range catalog.order {
		if replacement, ok := replaced[id]; ok {
			merged = append(merged, replacement)
			delete(replaced, id)
			continue
		}
		merged = append(merged, catalog.services[id])
	}
	for _, service := range services {
		if _, pending := replaced[service.ID]; pending {
			merged = append(merged, service)
			delete(replaced, service.ID)
		}
	}
	return NewCatalog(merged...)
}

// Lookup returns the service with the given id.
func (catalog *Catalog) Lookup(id string) (Service, bool) {
	service, ok := catalog.services[id]
	return service, ok
}

// Services returns every entry in declaration order.
func (catalog *Catalog) Services() []Service {
	services := make([]Service, 0, len(catalog.order))
	for _, id := range catalog.order {
		services = append(services, catalog.services[id])
	}
	return services
}

// Len returns the number of services.
func (catalog *Catalog) Len() int { return len(catalog.order) }

// DefaultServices is the built-in catalog.
var DefaultServices = []Service{
	{
		ID:                 "wslsp",
		DisplayName:        "Web Service de Liquidación Sector Pecuario",
		Description:        "Liquidación y facturación sector pecuario",
		TestingEndpoint:    "https://wswhomo.afip.gov.ar/wslsp/LspService",
		ProductionEndpoint: "https://serviciosjava.afip.gob.ar/wslsp/LspService",
	},
	{
		ID:                 "mtxca",
		DisplayName:        "Factura Electrónica Web Service",
		Description:        "Comprobantes electrónicos monotributo",
		TestingEndpoint:    "https://wswhomo.afip.gov.ar/wsmtxca/services/MTXCAService",
		ProductionEndpoint: "https://serviciosjava.afip.gob.ar/wsmtxca/services/MTXCAService",
	},
	{
		ID:                 "remcarneservice",
		DisplayName:        "Webservice Remitos Electrónicos Cárnicos",
		Description:        "Remitos de carnes y subproductos derivados de faena",
		TestingEndpoint:    "https://wswhomo.afip.gov.ar/remcarne/RemCarneService",
		ProductionEndpoint: "https://serviciosjava.afip.gob.ar/remcarne/RemCarneService",
	},
	{
		ID:                 "wsfe",
		DisplayName:        "Web Service de Factura Electrónica",
		Description:        "Comprobantes electrónicos sin detalle de ítems",
		TestingEndpoint:    "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
		ProductionEndpoint: "https://servicios1.afip.gov.ar/wsfev1/service.asmx",
	},
	{
		ID:                 "wsfex",
		DisplayName:        "Web Service de Factura Electrónica de Exportación",
		Description:        "Comprobantes electrónicos de exportación",
		TestingEndpoint:    "https://wswhomo.afip.gov.ar/wsfexv1/service.asmx",
		ProductionEndpoint: "https://servicios1.afip.gov.ar/wsfexv1/service.asmx",
	},
	{
		ID:                 "ws_sr_padron_a4",
		DisplayName:        "Consulta de Padrón Alcance 4",
		Description:        "Datos registrales de contribuyentes",
		TestingEndpoint:    "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA4",
		ProductionEndpoint: "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA4",
	},
	{
		ID:                 "ws_sr_padron_a5",
		DisplayName:        "Consulta de Padrón Alcance 5",
		Description:        "Constancia de inscripción",
		TestingEndpoint:    "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA5",
		ProductionEndpoint: "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA5",
	},
}

// DefaultCatalog returns a catalog of DefaultServices.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog(DefaultServices...)
	if err != nil {
		panic(fmt.Sprintf("wsaa: built-in catalog is invalid: %v", err))
	}
	return catalog
}
