package notifications

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English text.
const (
	msgRecorderStarted  = "🚀 Recorder started"
	msgRecorderStopped  = "⏹ Recorder stopped"
	msgBacklogEnqueued  = "📦 %d segments from a previous run queued for upload"
	msgRecordingStarted = "🎥 Recording started: %s"
	msgCaptureFailed    = "❌ Capture failed: %s"
	msgUploadCompleted  = "✅ Uploaded: %s"
	msgUploadFailed     = "❌ Upload failed after %d attempts: %s\n%s"
	msgLowDisk          = "⚠️ Low disk space: %.1f GB free"
	msgNetworkBusy      = "⏸ Uploads paused, unknown devices on the network: %s"
	msgNetworkClear     = "▶️ Uploads resumed, the network is clear"
	msgTest             = "🔧 Test notification"

	titleRecorder = "Recorder"
	titleCapture  = "Capture"
	titleUpload   = "Upload"
	titleStorage  = "Storage"
	titleNetwork  = "Network"
	titleTest     = "Test"
)

var translations = map[language.Tag]map[string]string{
	language.Russian: {
		msgRecorderStarted:  "🚀 Запись запущена",
		msgRecorderStopped:  "⏹ Запись остановлена",
		msgBacklogEnqueued:  "📦 В очередь на загрузку добавлено сегментов с прошлого запуска: %d",
		msgRecordingStarted: "🎥 Запись начата: %s",
		msgCaptureFailed:    "❌ Ошибка записи: %s",
		msgUploadCompleted:  "✅ Загружено: %s",
		msgUploadFailed:     "❌ Не удалось загрузить после попыток: %[1]d, %[2]s\n%[3]s",
		msgLowDisk:          "⚠️ Мало места на диске: %.1f ГБ свободно",
		msgNetworkBusy:      "⏸ Загрузка приостановлена, в сети посторонние устройства: %s",
		msgNetworkClear:     "▶️ Загрузка возобновлена, сеть свободна",
		msgTest:             "🔧 Тестовое уведомление",
		titleRecorder:       "Запись",
		titleCapture:        "Захват",
		titleUpload:         "Загрузка",
		titleStorage:        "Диск",
		titleNetwork:        "Сеть",
		titleTest:           "Тест",
	},
}

var messageCatalog = buildCatalog()

func buildCatalog() catalog.Catalog {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range translations {
		for key, text := range entries {
			if err := builder.SetString(tag, key, text); err != nil {
				panic(err)
			}
		}
	}
	return builder
}

// newPrinter returns a printer for the configured language; anything other
// than Russian renders English.
func newPrinter(lang string) *message.Printer {
	tag := language.English
	if parsed, err := language.Parse(strings.TrimSpace(lang)); err == nil {
		if base, _ := parsed.Base(); base.String() == "ru" {
			tag = language.Russian
		}
	}
	return message.NewPrinter(tag, message.Catalog(messageCatalog))
}
