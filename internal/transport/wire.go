package transport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/bdougie/vigil/internal/models"
)

// AnalyzeRequest carries one frame as a data URI.
type AnalyzeRequest struct {
	ImageBase64 string `json:"imageBase64"`
}

// FrameDescription is the judgment as it travels on the wire.
type FrameDescription struct {
	Description string `json:"description"`
	IsThreat    bool   `json:"is_threat"`
}

// AnalyzeResponse is the reply to AnalyzeRequest. Audio is null unless the
// frame was judged a threat and synthesis succeeded.
type AnalyzeResponse struct {
	FrameDescription *FrameDescription `json:"frameDescription"`
	Audio            []float32         `json:"audio"`
	SampleRate       int               `json:"sampleRate,omitempty"`
	// Warning is set when a threat could not be voiced.
	Warning string `json:"warning,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errBadDataURI = errors.New("malformed data URI")

// DecodeDataURI extracts the payload and media type of a base64 data URI.
// A bare base64 string is accepted as image/jpeg.
func DecodeDataURI(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", fmt.Errorf("%w: empty", errBadDataURI)
	}

	mime := "image/jpeg"
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, data, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: no payload", errBadDataURI)
		}
		params := strings.Split(header, ";")
		if params[len(params)-1] != "base64" {
			return nil, "", fmt.Errorf("%w: not base64", errBadDataURI)
		}
		if params[0] != "" {
			mime = params[0]
		}
		payload = data
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadDataURI, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", errBadDataURI)
	}
	return data, mime, nil
}

func toResponse(result models.AnalysisResult) AnalyzeResponse {
	resp := AnalyzeResponse{
		FrameDescription: &FrameDescription{
			Description: result.Judgment.Description,
			IsThreat:    result.Judgment.IsThreat,
		},
	}
	if result.HasAudio() {
		resp.Audio = result.Audio.Samples
		resp.SampleRate = result.Audio.SampleRate
	}
	return resp
}

// fromResponse rejects a reply without a usable judgment rather than
// reading it as a safe scene.
func fromResponse(resp AnalyzeResponse) (models.AnalysisResult, error) {
	if resp.FrameDescription == nil {
		return models.AnalysisResult{}, errors.New("response has no frameDescription")
	}
	if strings.TrimSpace(resp.FrameDescription.Description) == "" {
		return models.AnalysisResult{}, errors.New("response has an empty description")
	}
	result := models.AnalysisResult{
		Judgment: models.FrameJudgment{
			Description: resp.FrameDescription.Description,
			IsThreat:    resp.FrameDescription.IsThreat,
		},
	}
	if len(resp.Audio) > 0 {
		rate := resp.SampleRate
		if rate <= 0 {
			rate = models.DefaultSampleRate
		}
		result.Audio = &models.AlertAudio{Samples: resp.Audio, SampleRate: rate}
	}
	return result, nil
}
