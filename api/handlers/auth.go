package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/databases"
	"github.com/swifthaul/logistics-api/models"
)

// Auth exported for testing purposes
type Auth struct {
	DB databases.UserDatabase
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterHandler creates a customer or driver account. Admin accounts are
// provisioned out of band and cannot be self-registered.
func (a Auth) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid_body", "failed to decode request body")
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeAuthError(w, http.StatusBadRequest, "missing_fields", "name, email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeAuthError(w, http.StatusBadRequest, "weak_password", "password must be at least 8 characters")
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleCustomer
	}
	if role != models.RoleCustomer && role != models.RoleDriver {
		writeAuthError(w, http.StatusBadRequest, "invalid_role", "role must be customer or driver")
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	count, err := a.DB.CountDocuments(ctx, bson.M{"user.email": req.Email})
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "internal_error", "failed to check existing accounts")
		return
	}
	if count > 0 {
		writeAuthError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "internal_error", "failed to hash password")
		return
	}

	user := models.User{
		ID: primitive.NewObjectID(),
		Details: models.UserDetails{
			Name:      req.Name,
			Email:     req.Email,
			Password:  string(hash),
			Role:      role,
			Phone:     req.Phone,
			Active:    true,
			CreatedAt: primitive.NewDateTimeFromTime(time.Now()),
		},
	}
	user.Details.UpdatedAt = user.Details.CreatedAt

	if _, err := a.DB.InsertOne(ctx, user); err != nil {
		writeAuthError(w, http.StatusInternalServerError, "internal_error", "failed to create account")
		return
	}

	zap.S().Infow("account registered", "uid", user.ID.Hex(), "role", role)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"id":      user.ID.Hex(),
	})
}

// LoginHandler verifies credentials and issues the signed access token the
// client apps present as a bearer credential.
func (a Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "invalid_body", "failed to decode request body")
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := a.DB.FindOne(ctx, bson.M{"user.email": req.Email})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			writeAuthError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		writeAuthError(w, http.StatusInternalServerError, "internal_error", "failed to look up account")
		return
	}

	if !user.Details.Active {
		writeAuthError(w, http.StatusForbidden, "account_disabled", "this account has been disabled")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Details.Password), []byte(req.Password)); err != nil {
		writeAuthError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	token, err := api.SignAccessToken(user)
	if err != nil {
		zap.S().Errorw("failed to sign access token", "uid", user.ID.Hex(), "error", err)
		writeAuthError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"token":   token,
		"user": map[string]interface{}{
			"id":                user.ID.Hex(),
			"name":              user.Details.Name,
			"email":             user.Details.Email,
			"role":              user.Details.Role,
			"assignedVehicleId": user.Details.AssignedVehicleID,
		},
	})
}

// writeAuthError writes the coded error envelope the auth and payment
// surfaces use.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}
