package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"tire-assistant/internal/domain"
	"tire-assistant/internal/tiresize"
	"tire-assistant/internal/toolmarker"
)

const (
	inventoryToolName = "buscarInventarioCliente"
	// EndSentinel is what the persona emits to end an abusive conversation.
	EndSentinel = "[END_CONVERSATION]"
	apologyText = "Lo siento, tuve un problema para responderte. ¿Me lo puedes repetir en un momento?"
)

// defaultPersona is used when no PROMPT_PATH is configured.
var defaultPersona = strings.Join([]string{
	"Eres el asistente de una llantera y atiendes clientes por Messenger.",
	"Responde en español, con frases cortas y un tono amable.",
	"Cuando el cliente mencione una medida de llanta, consulta el inventario escribiendo exactamente:",
	toolmarker.Format(inventoryToolName, `{"medida":"205/55R16"}`),
	"usando la medida normalizada (tres dígitos, diagonal, dos dígitos, R, dos dígitos).",
	"Si la medida no es clara, pide al cliente que la confirme antes de buscar.",
	"Nunca inventes precios ni existencias; usa solo lo que te devuelva la búsqueda.",
	"Si el cliente insulta o se burla de forma repetida, responde únicamente " + EndSentinel + ".",
}, "\n")

// LoadPersona reads the persona prompt from path, or returns the built-in
// one when path is empty.
func LoadPersona(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultPersona, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("usecase: read prompt %q: %w", path, err)
	}
	persona := strings.TrimSpace(string(raw))
	if persona == "" {
		return "", fmt.Errorf("usecase: prompt %q is empty", path)
	}
	return persona, nil
}

// inventoryTool declares the inventory search to providers with structured
// tool calls.
var inventoryTool = domain.ToolSpec{
	Name:        inventoryToolName,
	Description: "Busca llantas disponibles en el inventario de la tienda por medida. Si no hay, sugiere una medida compatible.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"medida": map[string]any{
				"type":        "string",
				"description": "Medida normalizada de la llanta, por ejemplo 205/55R16",
			},
		},
		"required": []string{"medida"},
	},
}

// buildPromptMessages orders the context as persona, shop profile,
// chronological history, then the current user turn.
func buildPromptMessages(persona string, customer domain.Customer, history []domain.HistoryEntry, inbound string) []domain.ChatMessage {
	messages := []domain.ChatMessage{{Role: domain.ChatRoleSystem, Content: persona}}
	if profile := buildCustomerProfilePrompt(customer); profile != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: profile})
	}
	for _, h := range history {
		body := strings.TrimSpace(h.Body)
		if body == "" {
			continue
		}
		role := domain.ChatRoleUser
		if h.Role == domain.RoleAssistant {
			role = domain.ChatRoleAssistant
		}
		messages = append(messages, domain.ChatMessage{Role: role, Content: body})
	}
	return append(messages, domain.ChatMessage{Role: domain.ChatRoleUser, Content: inbound})
}

func buildCustomerProfilePrompt(c domain.Customer) string {
	var lines []string
	if c.Name != "" {
		lines = append(lines, "Nombre del negocio: "+c.Name)
	}
	if c.Address != "" {
		lines = append(lines, "Dirección: "+c.Address)
	}
	if c.Hours != "" {
		lines = append(lines, "Horarios: "+c.Hours)
	}
	if len(c.Services) > 0 {
		lines = append(lines, "Servicios: "+strings.Join(c.Services, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Información de la tienda:\n" + strings.Join(lines, "\n")
}

type sizeArgument struct {
	Medida string `json:"medida"`
}

// parseSizeArgument extracts and normalizes the medida field of a tool call.
func parseSizeArgument(arguments string) (string, error) {
	var arg sizeArgument
	if err := json.Unmarshal([]byte(toolmarker.NormalizeQuotes(strings.TrimSpace(arguments))), &arg); err != nil {
		return "", fmt.Errorf("usecase: decode tool arguments: %w", err)
	}
	if strings.TrimSpace(arg.Medida) == "" {
		return "", errors.New("usecase: tool arguments missing medida")
	}
	size, ok := tiresize.Parse(arg.Medida)
	if !ok {
		return "", fmt.Errorf("usecase: unrecognized medida %q", arg.Medida)
	}
	return size, nil
}
