package vector

import (
	"fmt"
	"strings"

	"edgarrag/internal/config"
	"edgarrag/internal/util"
)

// Open selects the backend named by cfg.VectorStore. conn is only used by
// the pgvector backend and may be nil otherwise.
func Open(cfg config.Config, conn Conn) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorStore)) {
	case "", "pgvector":
		if conn == nil {
			return nil, fmt.Errorf("%w: pgvector backend needs a postgres connection", util.ErrConfiguration)
		}
		return NewPGVectorIndex(conn), nil
	case "chromem":
		return NewChromemIndex(cfg.ChromemDir, "")
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", util.ErrConfiguration, cfg.VectorStore)
	}
}
