package handler

import (
	"strings"

	"storyboard-server/internal/model"
	"storyboard-server/internal/store"
)

// ErrorResponse - тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunResponse - ответ на запуск прогона.
type RunResponse struct {
	Run model.Run `json:"run"`
}

// SnapshotResponse - состояние текущего прогона для клиента.
type SnapshotResponse struct {
	Run             model.Run     `json:"run"`
	Scenes          []model.Scene `json:"scenes"`
	ExportAvailable bool          `json:"exportAvailable"`
}

// AcceptedResponse - ответ на постановку фоновой операции.
type AcceptedResponse struct {
	SceneID int    `json:"sceneId"`
	Status  string `json:"status"`
}

// WSMessage - сообщение в websocket. Type: snapshot при подключении, дальше вид события стора.
type WSMessage struct {
	Type     string           `json:"type"`
	SceneID  int              `json:"sceneId,omitempty"`
	Snapshot SnapshotResponse `json:"snapshot"`
}

// toSnapshotResponse собирает DTO. Относительные URL артефактов дополняются baseURL, если он задан.
func toSnapshotResponse(snap store.Snapshot, baseURL string) SnapshotResponse {
	scenes := make([]model.Scene, 0, len(snap.Scenes))
	for _, sc := range snap.Scenes {
		sc.ImageURL = absoluteURL(baseURL, sc.ImageURL)
		sc.VideoURL = absoluteURL(baseURL, sc.VideoURL)
		scenes = append(scenes, sc)
	}
	return SnapshotResponse{
		Run:             snap.Run,
		Scenes:          scenes,
		ExportAvailable: snap.ExportAvailable(),
	}
}

func absoluteURL(baseURL, path string) string {
	if baseURL == "" || path == "" || !strings.HasPrefix(path, "/") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + path
}
