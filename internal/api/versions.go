package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"churn-service/internal/ml"

	"github.com/rs/zerolog/log"
)

const registryDisabledDetail = "Model registry is not enabled."

type versionsResponse struct {
	Versions      []ml.ModelVersion `json:"versions"`
	ActiveVersion string            `json:"active_version,omitempty"`
}

// servingResponse describes the artifact the predictor serves after a
// reload or rollback.
type servingResponse struct {
	ModelName     string           `json:"model_name"`
	ModelPath     string           `json:"model_path"`
	LoadedAt      time.Time        `json:"loaded_at"`
	ActiveVersion *ml.ModelVersion `json:"active_version,omitempty"`
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		respondDetail(w, http.StatusNotFound, registryDisabledDetail)
		return
	}

	resp := versionsResponse{Versions: s.versions.ListVersions()}
	if resp.Versions == nil {
		resp.Versions = []ml.ModelVersion{}
	}
	if v := s.versions.CurrentVersion(); v != nil {
		resp.ActiveVersion = v.Version
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRollback activates the previous version and serves its artifact.
// The registry is restored when the artifact cannot be loaded.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		respondDetail(w, http.StatusNotFound, registryDisabledDetail)
		return
	}

	before := s.versions.CurrentVersion()
	if err := s.versions.Rollback(); err != nil {
		respondDetail(w, http.StatusConflict, fmt.Sprintf("Rollback failed: %v", err))
		return
	}

	current := s.versions.CurrentVersion()
	if err := s.predictor.Use(current.Path); err != nil {
		if before != nil {
			if restoreErr := s.versions.ActivateVersion(before.Version); restoreErr != nil {
				log.Error().Err(restoreErr).Str("version", before.Version).Msg("Failed to restore active version")
			}
		}
		s.respondLoadError(w, err)
		return
	}

	log.Info().
		Str("from", versionID(before)).
		Str("to", current.Version).
		Msg("Model rolled back")
	s.respondServing(w)
}

// handleReload re-reads the registry and loads the active version, or the
// configured artifact when no version is active. Used after churntrain
// writes a new model while the API is running.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var current *ml.ModelVersion
	if s.versions != nil {
		if err := s.versions.Refresh(); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh model registry")
		}
		current = s.versions.CurrentVersion()
	}

	var err error
	if current != nil {
		err = s.predictor.Use(current.Path)
	} else {
		err = s.predictor.Reload()
	}
	if err != nil {
		s.respondLoadError(w, err)
		return
	}

	log.Info().Str("version", versionID(current)).Str("model_path", s.predictor.ModelPath()).Msg("Model reloaded")
	s.respondServing(w)
}

func (s *Server) respondLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, ml.ErrModelNotFound) {
		respondDetail(w, http.StatusNotFound, ModelNotFoundDetail)
		return
	}
	respondDetail(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
}

func (s *Server) respondServing(w http.ResponseWriter) {
	model, ok := s.model(w)
	if !ok {
		return
	}
	resp := servingResponse{
		ModelName: model.Name,
		ModelPath: s.predictor.ModelPath(),
		LoadedAt:  s.predictor.LoadedAt(),
	}
	if s.versions != nil {
		resp.ActiveVersion = s.versions.CurrentVersion()
	}
	respondJSON(w, http.StatusOK, resp)
}

func versionID(v *ml.ModelVersion) string {
	if v == nil {
		return ""
	}
	return v.Version
}
