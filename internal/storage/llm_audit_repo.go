package storage

import (
	"context"
	"fmt"
)

// LLMCallRecord is one audited provider call. RequestID carries the workflow
// run id when the call happened inside a pipeline.
type LLMCallRecord struct {
	CallID       string
	RequestID    string
	Operation    string
	PaperID      string
	ProviderName string
	Model        string
	Status       string
	ErrorType    string
}

type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

func (r *LLMAuditRepo) Insert(ctx context.Context, rec LLMCallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(call_id, request_id, operation, paper_id, provider_name, model, status, error_type)
VALUES (COALESCE(NULLIF($1,'')::uuid, gen_random_uuid()), NULLIF($2,''), $3, NULLIF($4,''), $5, $6, $7, NULLIF($8,''))`,
		rec.CallID, rec.RequestID, rec.Operation, rec.PaperID, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
