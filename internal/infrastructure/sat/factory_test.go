package sat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sat-descarga-masiva/pkg/config"
	pkgsat "github.com/jhoicas/sat-descarga-masiva/pkg/sat"
)

func TestNewProtocolClientFromConfig_Retenciones(t *testing.T) {
	c, err := NewProtocolClientFromConfig(config.SATConfig{
		Service:            pkgsat.ServiceRetenciones,
		VerifyURL:          "http://localhost:9000/verifica",
		TimeoutSeconds:     5,
		MaxResponseMB:      1,
		SignatureAlgorithm: "sha256",
	}, nil, nil)
	require.NoError(t, err)

	ep := c.Endpoints()
	assert.Equal(t, pkgsat.RetencionesEndpoints.Authenticate, ep.Authenticate)
	assert.Equal(t, pkgsat.RetencionesEndpoints.Download, ep.Download)
	assert.Equal(t, "http://localhost:9000/verifica", ep.Verify)
}

func TestNewProtocolClientFromConfig_Rechaza(t *testing.T) {
	_, err := NewProtocolClientFromConfig(config.SATConfig{Service: "nomina"}, nil, nil)
	assert.Error(t, err)

	_, err = NewProtocolClientFromConfig(config.SATConfig{Service: "cfdi", SignatureAlgorithm: "md5"}, nil, nil)
	assert.Error(t, err)
}
