package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the API under /api
func RegisterRoutes(r gin.IRouter, cases *CaseHandler, files *FileHandler, analysis *AnalysisHandler) {
	api := r.Group("/api")
	{
		// Case endpoints
		api.POST("/cases", cases.CreateCase)
		api.GET("/cases", cases.ListCases)
		api.GET("/cases/:id", cases.GetCase)
		api.PUT("/cases/:id", cases.UpdateCase)
		api.DELETE("/cases/:id", cases.DeleteCase)

		// Volume endpoints
		api.POST("/cases/:id/volumes", cases.AddVolume)
		api.GET("/cases/:id/volumes", cases.ListVolumes)
		api.PUT("/volumes/:id", cases.UpdateVolume)
		api.PUT("/volumes/:id/text", cases.SetVolumeText)
		api.DELETE("/volumes/:id", cases.DeleteVolume)

		// File endpoints
		api.POST("/files/upload", files.UploadFile)
		api.GET("/files/:id", files.GetFile)

		// Agent and pipeline endpoints
		api.GET("/agents", analysis.ListAgents)
		api.POST("/cases/:id/agents/:agent/run", analysis.RunAgent)
		api.POST("/cases/:id/analysis", analysis.StartAnalysis)
		api.DELETE("/cases/:id/analysis", analysis.CancelAnalysis)
		api.GET("/cases/:id/analysis/progress", analysis.GetProgress)
		api.GET("/cases/:id/runs", analysis.ListRuns)
		api.GET("/runs/:id", analysis.GetRun)

		// Evidence registry endpoints
		api.GET("/cases/:id/evidence", analysis.ListEvidence)
		api.PUT("/cases/:id/evidence/:itemId/admissibility", analysis.OverrideAdmissibility)

		// Report endpoints
		api.POST("/cases/:id/report", analysis.GenerateReport)
		api.GET("/cases/:id/report", analysis.GetReport)
		api.GET("/cases/:id/reports", analysis.ListReports)
	}
}
