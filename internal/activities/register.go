package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListIncomingActivity)
	w.RegisterActivity(a.DecomposePaperActivity)
	w.RegisterActivity(a.RegisterPaperActivity)
	w.RegisterActivity(a.GetPaperActivity)
	w.RegisterActivity(a.ListPapersByStatusActivity)
	w.RegisterActivity(a.UpdatePaperStatusActivity)
	w.RegisterActivity(a.ChunkPaperActivity)
	w.RegisterActivity(a.DeleteChunksActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.StoreChunksActivity)
	w.RegisterActivity(a.ExtractCitationsActivity)
	w.RegisterActivity(a.MergeGraphActivity)
	w.RegisterActivity(a.SummarizePaperActivity)
	w.RegisterActivity(a.CleanupPaperActivity)
	w.RegisterActivity(a.ReclusterActivity)
	w.RegisterActivity(a.WriteRunManifestActivity)
	w.RegisterActivity(a.LogLLMCallActivity)
}
