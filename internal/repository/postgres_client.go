package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tire-assistant/internal/domain"
)

const (
	estadoActiva   = "activa"
	estadoCerrada  = "cerrada"
	hablaCliente   = "cliente"
	hablaAsistente = "asistente"
)

// PostgresClient implements the store on the relational schema used by the
// shop's existing back office (clientes, conversaciones, mensajes, llantas).
type PostgresClient struct {
	db *pgxpool.Pool
}

// NewPostgres opens a pool, verifies it and applies the schema.
func NewPostgres(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("repository: parse connection string: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("repository: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}

	client := &PostgresClient{db: pool}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return client, nil
}

// Close releases the pool.
func (p *PostgresClient) Close() {
	p.db.Close()
}

var migrations = []struct {
	name string
	sql  string
}{
	{"clientes", `
		CREATE TABLE IF NOT EXISTS clientes (
			cliente_id TEXT PRIMARY KEY,
			facebook_page_id TEXT UNIQUE NOT NULL,
			nombre TEXT NOT NULL DEFAULT '',
			direccion TEXT NOT NULL DEFAULT '',
			horarios TEXT NOT NULL DEFAULT '',
			servicios TEXT[] NOT NULL DEFAULT '{}'
		);`},
	{"messenger_users", `
		CREATE TABLE IF NOT EXISTS messenger_users (
			id TEXT PRIMARY KEY,
			psid TEXT NOT NULL,
			cliente_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (psid, cliente_id)
		);`},
	{"conversaciones", `
		CREATE TABLE IF NOT EXISTS conversaciones (
			conversacion_id TEXT PRIMARY KEY,
			psid TEXT NOT NULL,
			cliente_id TEXT NOT NULL,
			estado TEXT NOT NULL DEFAULT 'activa',
			last_activity TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`},
	{"conversaciones_activa_idx", `
		CREATE UNIQUE INDEX IF NOT EXISTS conversaciones_activa_idx
			ON conversaciones (psid, cliente_id) WHERE estado = 'activa';`},
	{"mensajes", `
		CREATE TABLE IF NOT EXISTS mensajes (
			id TEXT PRIMARY KEY,
			conversacion_id TEXT NOT NULL REFERENCES conversaciones (conversacion_id),
			cliente_id TEXT NOT NULL,
			psid TEXT NOT NULL DEFAULT '',
			mensaje TEXT NOT NULL,
			quien_hablo TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);`},
	{"mensajes_conv_idx", `
		CREATE INDEX IF NOT EXISTS mensajes_conv_idx ON mensajes (conversacion_id, created_at DESC);`},
	{"llantas", `
		CREATE TABLE IF NOT EXISTS llantas (
			id TEXT PRIMARY KEY,
			cliente_id TEXT NOT NULL,
			marca TEXT NOT NULL,
			medida TEXT NOT NULL,
			precio NUMERIC(12, 2) NOT NULL,
			estado_fisico TEXT NOT NULL DEFAULT '',
			ubicacion TEXT NOT NULL DEFAULT '',
			disponible BOOLEAN NOT NULL DEFAULT true
		);`},
	{"medidas_compatibles", `
		CREATE TABLE IF NOT EXISTS medidas_compatibles (
			id BIGSERIAL PRIMARY KEY,
			medida_original TEXT NOT NULL,
			medida_alternativa TEXT NOT NULL,
			prioridad INT NOT NULL DEFAULT 0,
			UNIQUE (medida_original, medida_alternativa)
		);`},
	{"buscar_llantas_anon", `
		CREATE OR REPLACE FUNCTION buscar_llantas_anon(medida TEXT, clienteid TEXT)
		RETURNS TABLE (
			llanta_id TEXT,
			marca TEXT,
			medida_llanta TEXT,
			precio NUMERIC,
			estado_fisico TEXT,
			ubicacion TEXT
		)
		LANGUAGE sql STABLE AS $$
			SELECT l.id, l.marca, l.medida, l.precio, l.estado_fisico, l.ubicacion
			FROM llantas l
			WHERE l.cliente_id = $2 AND upper(l.medida) = upper($1) AND l.disponible
			ORDER BY l.precio ASC, l.id ASC
		$$;`},
	{"conversation_leases", `
		CREATE TABLE IF NOT EXISTS conversation_leases (
			lease_key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`},
}

// Migrate creates the schema if it does not exist.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := p.db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("create %s: %w", m.name, err)
		}
	}
	return nil
}

func (p *PostgresClient) PutCustomer(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" || customer.PageID == "" {
		return errors.New("repository: PutCustomer: customer id and page id are required")
	}
	services := customer.Services
	if services == nil {
		services = []string{}
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO clientes (cliente_id, facebook_page_id, nombre, direccion, horarios, servicios)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cliente_id) DO UPDATE
		SET facebook_page_id = EXCLUDED.facebook_page_id,
			nombre = EXCLUDED.nombre,
			direccion = EXCLUDED.direccion,
			horarios = EXCLUDED.horarios,
			servicios = EXCLUDED.servicios`,
		customer.ID, customer.PageID, customer.Name, customer.Address, customer.Hours, services)
	if err != nil {
		return fmt.Errorf("repository: PutCustomer: %w", err)
	}
	return nil
}

func (p *PostgresClient) ResolveCustomer(ctx context.Context, pageID string) (domain.Customer, error) {
	customer := domain.Customer{PageID: pageID}
	err := p.db.QueryRow(ctx, `
		SELECT cliente_id, nombre, direccion, horarios, servicios
		FROM clientes WHERE facebook_page_id = $1`, pageID).
		Scan(&customer.ID, &customer.Name, &customer.Address, &customer.Hours, &customer.Services)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Customer{}, ErrNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("repository: ResolveCustomer: %w", err)
	}
	return customer, nil
}

func (p *PostgresClient) ResolveOrCreateChannelUser(ctx context.Context, senderID, customerID string) (string, error) {
	var id string
	err := p.db.QueryRow(ctx,
		`SELECT id FROM messenger_users WHERE psid = $1 AND cliente_id = $2`,
		senderID, customerID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("repository: ResolveOrCreateChannelUser lookup: %w", err)
	}

	if _, err := p.db.Exec(ctx, `
		INSERT INTO messenger_users (id, psid, cliente_id) VALUES ($1, $2, $3)
		ON CONFLICT (psid, cliente_id) DO NOTHING`,
		uuid.NewString(), senderID, customerID); err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateChannelUser insert: %w", err)
	}
	// Read back so a concurrent winner's row is returned.
	if err := p.db.QueryRow(ctx,
		`SELECT id FROM messenger_users WHERE psid = $1 AND cliente_id = $2`,
		senderID, customerID).Scan(&id); err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateChannelUser reread: %w", err)
	}
	return id, nil
}

func (p *PostgresClient) ResolveOrCreateActiveConversation(ctx context.Context, senderID, customerID string) (string, error) {
	const lookup = `
		SELECT conversacion_id FROM conversaciones
		WHERE psid = $1 AND cliente_id = $2 AND estado = 'activa'`

	var id string
	err := p.db.QueryRow(ctx, lookup, senderID, customerID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("repository: ResolveOrCreateActiveConversation lookup: %w", err)
	}

	err = p.db.QueryRow(ctx, `
		INSERT INTO conversaciones (conversacion_id, psid, cliente_id, estado)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (psid, cliente_id) WHERE estado = 'activa' DO NOTHING
		RETURNING conversacion_id`,
		uuid.NewString(), senderID, customerID, estadoActiva).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("repository: ResolveOrCreateActiveConversation insert: %w", err)
	}
	if err := p.db.QueryRow(ctx, lookup, senderID, customerID).Scan(&id); err != nil {
		return "", fmt.Errorf("repository: ResolveOrCreateActiveConversation reread: %w", err)
	}
	return id, nil
}

func (p *PostgresClient) AppendMessage(ctx context.Context, msg domain.Message) (string, error) {
	if msg.ConversationID == "" {
		return "", errors.New("repository: AppendMessage: conversation id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO mensajes (id, conversacion_id, cliente_id, psid, mensaje, quien_hablo)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.CustomerID, msg.SenderID, msg.Body, speakerColumn(msg.Role))
	if err != nil {
		return "", fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg.ID, nil
}

func (p *PostgresClient) RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.db.Query(ctx, `
		SELECT quien_hablo, mensaje FROM (
			SELECT quien_hablo, mensaje, created_at FROM mensajes
			WHERE conversacion_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentHistory query: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var speaker, body string
		if err := rows.Scan(&speaker, &body); err != nil {
			return nil, fmt.Errorf("repository: RecentHistory scan: %w", err)
		}
		entries = append(entries, domain.HistoryEntry{Role: roleFromSpeaker(speaker), Body: body})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: RecentHistory rows: %w", err)
	}
	return entries, nil
}

func (p *PostgresClient) TouchConversation(ctx context.Context, conversationID string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE conversaciones SET last_activity = now() WHERE conversacion_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("repository: TouchConversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresClient) CloseConversation(ctx context.Context, conversationID string) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE conversaciones SET estado = $2, last_activity = now()
		WHERE conversacion_id = $1`, conversationID, estadoCerrada)
	if err != nil {
		return fmt.Errorf("repository: CloseConversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresClient) PutInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	if item.CustomerID == "" || item.Size == "" {
		return errors.New("repository: PutInventoryItem: customer id and size are required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO llantas (id, cliente_id, marca, medida, precio, estado_fisico, ubicacion, disponible)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET marca = EXCLUDED.marca,
			medida = EXCLUDED.medida,
			precio = EXCLUDED.precio,
			estado_fisico = EXCLUDED.estado_fisico,
			ubicacion = EXCLUDED.ubicacion,
			disponible = EXCLUDED.disponible`,
		item.ID, item.CustomerID, item.Brand, item.Size, item.Price.String(), item.Condition, item.Location, item.Available)
	if err != nil {
		return fmt.Errorf("repository: PutInventoryItem: %w", err)
	}
	return nil
}

// SearchInventory calls buscar_llantas_anon, the same routine the back
// office exposes for anonymous lookups.
func (p *PostgresClient) SearchInventory(ctx context.Context, size, customerID string) ([]domain.InventoryItem, error) {
	rows, err := p.db.Query(ctx, `
		SELECT llanta_id, marca, medida_llanta, precio::text, estado_fisico, ubicacion
		FROM buscar_llantas_anon($1, $2)`, size, customerID)
	if err != nil {
		return nil, fmt.Errorf("repository: SearchInventory query: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var (
			item  domain.InventoryItem
			price string
		)
		if err := rows.Scan(&item.ID, &item.Brand, &item.Size, &price, &item.Condition, &item.Location); err != nil {
			return nil, fmt.Errorf("repository: SearchInventory scan: %w", err)
		}
		item.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("repository: SearchInventory price %q: %w", price, err)
		}
		item.CustomerID = customerID
		item.Available = true
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: SearchInventory rows: %w", err)
	}
	return items, nil
}

func (p *PostgresClient) PutCompatibility(ctx context.Context, row domain.SizeCompatibility) error {
	if row.OriginalSize == "" || row.AlternativeSize == "" {
		return errors.New("repository: PutCompatibility: sizes are required")
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO medidas_compatibles (medida_original, medida_alternativa, prioridad)
		VALUES ($1, $2, $3)
		ON CONFLICT (medida_original, medida_alternativa) DO UPDATE SET prioridad = EXCLUDED.prioridad`,
		row.OriginalSize, row.AlternativeSize, row.Priority)
	if err != nil {
		return fmt.Errorf("repository: PutCompatibility: %w", err)
	}
	return nil
}

func (p *PostgresClient) CompatibleSizes(ctx context.Context, size string) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		SELECT medida_alternativa FROM medidas_compatibles
		WHERE upper(medida_original) = upper($1)
		ORDER BY prioridad ASC, id ASC`, size)
	if err != nil {
		return nil, fmt.Errorf("repository: CompatibleSizes query: %w", err)
	}
	sizes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("repository: CompatibleSizes scan: %w", err)
	}
	return sizes, nil
}

func (p *PostgresClient) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) error {
	tag, err := p.db.Exec(ctx, `
		INSERT INTO conversation_leases (lease_key, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (lease_key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE conversation_leases.expires_at < now() OR conversation_leases.owner = EXCLUDED.owner`,
		key, owner, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("repository: AcquireLease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseHeld
	}
	return nil
}

func (p *PostgresClient) ReleaseLease(ctx context.Context, key, owner string) error {
	if _, err := p.db.Exec(ctx,
		`DELETE FROM conversation_leases WHERE lease_key = $1 AND owner = $2`, key, owner); err != nil {
		return fmt.Errorf("repository: ReleaseLease: %w", err)
	}
	return nil
}

func speakerColumn(role domain.Role) string {
	if role == domain.RoleAssistant {
		return hablaAsistente
	}
	return hablaCliente
}

func roleFromSpeaker(speaker string) domain.Role {
	if speaker == hablaAsistente {
		return domain.RoleAssistant
	}
	return domain.RoleCustomer
}
