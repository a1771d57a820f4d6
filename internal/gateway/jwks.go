package gateway

import (
	"crypto/ecdsa"
	"encoding/base64"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// jwk is one EC public key in JWKS form.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// JWKSHandler serves the verification keys under /.well-known/jwks.json
// so remote verifiers can resolve kids without out-of-band key exchange.
// Keys are rendered once at route setup; rotation requires a restart.
func JWKSHandler(keys map[string]*ecdsa.PublicKey) gin.HandlerFunc {
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := struct {
		Keys []jwk `json:"keys"`
	}{}
	for _, kid := range kids {
		pub := keys[kid]
		x := make([]byte, 32)
		y := make([]byte, 32)
		pub.X.FillBytes(x)
		pub.Y.FillBytes(y)
		set.Keys = append(set.Keys, jwk{
			Kty: "EC",
			Crv: "P-256",
			X:   base64.RawURLEncoding.EncodeToString(x),
			Y:   base64.RawURLEncoding.EncodeToString(y),
			Kid: kid,
			Alg: "ES256",
			Use: "sig",
		})
	}

	return func(c *gin.Context) {
		c.JSON(http.StatusOK, set)
	}
}
