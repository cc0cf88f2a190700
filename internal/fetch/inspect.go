package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"

	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

// formats the browser renders but the standard decoders do not parse; they
// are accepted without dimensions.
var opaqueImageTypes = map[string]bool{
	"image/webp":    true,
	"image/svg+xml": true,
	"image/avif":    true,
}

// Inspect validates that data is an image and fills in its content type and,
// where a decoder is available, its dimensions. declared is the content type
// reported by the source and is only trusted for formats that cannot be
// sniffed.
func Inspect(url string, data []byte, declared string) (*lazyload.Resource, error) {
	if len(data) == 0 {
		return nil, loaderrors.Decode(url, errors.New("empty body"))
	}

	contentType := mediaType(http.DetectContentType(data))
	if declaredType := mediaType(declared); !strings.HasPrefix(contentType, "image/") && opaqueImageTypes[declaredType] {
		contentType = declaredType
	}

	res := &lazyload.Resource{
		URL:         url,
		ContentType: contentType,
		Data:        data,
	}

	switch {
	case opaqueImageTypes[contentType]:
		return res, nil
	case strings.HasPrefix(contentType, "image/"):
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, loaderrors.Decode(url, err)
		}
		res.Width, res.Height = cfg.Width, cfg.Height
		return res, nil
	default:
		return nil, loaderrors.Decode(url, fmt.Errorf("content type %s is not an image", contentType))
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
