package enums

import "fmt"

// Gateway identifies a payment provider integration.
type Gateway string

const (
	GatewayPagarme     Gateway = "pagarme"
	GatewayMercadoPago Gateway = "mercadopago"
	GatewayOpenPix     Gateway = "openpix"
	GatewayPagHiper    Gateway = "paghiper"
)

var validGateways = []Gateway{
	GatewayPagarme,
	GatewayMercadoPago,
	GatewayOpenPix,
	GatewayPagHiper,
}

// String implements fmt.Stringer.
func (g Gateway) String() string {
	return string(g)
}

// IsValid reports whether the value is known.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// Gateways returns every known gateway.
func Gateways() []Gateway {
	out := make([]Gateway, len(validGateways))
	copy(out, validGateways)
	return out
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	for _, candidate := range validGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
