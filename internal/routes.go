package internal

import (
	"charsync/internal/controllers"
	"charsync/internal/providers"
	"net/http"
)

func InitRoutes(apiController *controllers.ApiController) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()

	routers.Get("/sessions", http.HandlerFunc(apiController.GetSessions))
	routers.Post("/sessions/host", http.HandlerFunc(apiController.StartHost))
	routers.Post("/sessions/client", http.HandlerFunc(apiController.StartClient))
	routers.Post("/sessions/stop", http.HandlerFunc(apiController.StopSession))
	routers.Get("/hosts", http.HandlerFunc(apiController.GetHosts))

	routers.Get("/characters", http.HandlerFunc(apiController.ListCharacters))
	routers.Post("/characters", http.HandlerFunc(apiController.CreateCharacter))
	routers.Get("/character", http.HandlerFunc(apiController.GetCharacter))
	routers.Get("/characters/export", http.HandlerFunc(apiController.ExportCharacter))
	routers.Post("/characters/import", http.HandlerFunc(apiController.ImportCharacter))
	routers.Post("/characters/journal", http.HandlerFunc(apiController.AppendJournal))
	routers.Post("/characters/energy", http.HandlerFunc(apiController.ChangeEnergy))
	return routers
}
