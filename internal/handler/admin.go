package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/boost/internal/diagnostic"
	"github.com/pavelanni/boost/internal/handler/views"
	"github.com/pavelanni/boost/internal/model"
)

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.AdminUsersPage(users))
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}
	if me := model.UserFromContext(r.Context()); me != nil && me.ID == id {
		http.Error(w, "cannot deactivate yourself", http.StatusBadRequest)
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("toggled user active", "id", id)

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) renderQuestionsPage(w http.ResponseWriter, r *http.Request, status int, msgID string, isError bool) {
	questions, err := h.store.ListQuestions()
	if err != nil {
		slog.Error("failed to list questions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, r, status, views.AdminQuestionsPage(questions, msgID, isError))
}

func (h *Handler) handleAdminQuestionsPage(w http.ResponseWriter, r *http.Request) {
	h.renderQuestionsPage(w, r, http.StatusOK, "", false)
}

// handleUploadQuestions replaces the question bank. limitFormBody caps the
// upload size and csrfMiddleware has already parsed the multipart form.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("questions_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.store.GetImportedFileHash(header.Filename)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if storedHash == hash {
		h.renderQuestionsPage(w, r, http.StatusOK, "UploadDuplicate", true)
		return
	}

	questions, err := diagnostic.ParseQuestionBank(data)
	if err != nil {
		slog.Warn("rejected question bank upload", "filename", header.Filename, "error", err)
		h.renderQuestionsPage(w, r, http.StatusBadRequest, "ErrQuestionsInvalid", true)
		return
	}

	if err := h.store.ReplaceQuestions(questions); err != nil {
		slog.Error("failed to replace questions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.store.SetImportedFileHash(header.Filename, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("uploaded questions via admin", "filename", header.Filename, "count", len(questions))
	h.renderQuestionsPage(w, r, http.StatusOK, "QuestionsReplaced", false)
}
