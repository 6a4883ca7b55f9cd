package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirror_worker/internal/config"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Database: "db"})
	require.Error(t, err)

	_, err = NewClient(context.Background(), Config{URI: "mongodb://localhost:27017"})
	require.Error(t, err)
}

func TestInitFromConfigWithoutURI(t *testing.T) {
	client, err := InitFromConfig(context.Background(), &config.Config{MongoDBName: "mirror_worker"})
	require.NoError(t, err)
	assert.Nil(t, client)

	// nil 客户端上的方法是安全的
	assert.NoError(t, client.Close(context.Background()))
	assert.Nil(t, client.Database())
}
