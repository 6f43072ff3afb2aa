package controlplane

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gitmesh/gitmesh/internal/git"
	"github.com/gitmesh/gitmesh/internal/version"
)

// PeerStatus reports one peer of a source: its path, queued push tasks and
// the branches confirmed pushed to it.
type PeerStatus struct {
	Host       string            `json:"host"`
	Path       string            `json:"path"`
	QueueDepth int               `json:"queue_depth"`
	Branches   map[string]string `json:"branches,omitempty"`
}

type SourceStatus struct {
	Name      string       `json:"name"`
	LocalPath string       `json:"local_path"`
	Peers     []PeerStatus `json:"peers"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Short(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	sources := s.registry.All()
	statuses := make([]SourceStatus, 0, len(sources))

	for _, src := range sources {
		cache := src.CacheSnapshot()
		depths := src.QueueDepths()

		status := SourceStatus{
			Name:      src.Name,
			LocalPath: src.LocalPath,
			Peers:     make([]PeerStatus, 0, len(depths)),
		}
		for _, host := range src.Hosts() {
			path, _ := src.PeerPath(host)
			status.Peers = append(status.Peers, PeerStatus{
				Host:       host,
				Path:       path,
				QueueDepth: depths[host],
				Branches:   cache[host],
			})
		}
		statuses = append(statuses, status)
	}

	c.JSON(http.StatusOK, gin.H{
		"failed_tasks": s.engine.FailedTasks(),
		"sources":      statuses,
	})
}

func (s *Server) handleSyncSource(c *gin.Context) {
	name := c.Param("name")
	src, ok := s.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source: " + name})
		return
	}

	// submission only; tasks complete on their peer workers
	s.engine.NotifyChanged(c.Request.Context(), src)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "source": name})
}

// handleDeleteBranch removes a branch from a peer's repository. It exists so
// a renamed-away conflict branch can be dropped once a human has merged or
// inspected it.
func (s *Server) handleDeleteBranch(c *gin.Context) {
	name := c.Param("name")
	host := c.Param("host")
	branch := strings.TrimPrefix(c.Param("branch"), "/")

	src, ok := s.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source: " + name})
		return
	}
	path, ok := src.PeerPath(host)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown peer: " + host})
		return
	}
	if branch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "branch name required"})
		return
	}

	remote := git.Remote{
		Host:  host,
		Path:  path,
		Local: host == s.config.LocalHost,
	}
	force := c.Query("force") == "true"

	if err := s.access.DeleteBranch(c.Request.Context(), remote, branch, force); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "peer": host, "branch": branch})
}
