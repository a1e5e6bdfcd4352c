package query

// ---------- Tipos de paginación / ordenamiento ----------

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Interfaz genérica para paginación
type Pagination interface{}

// Sort indica campo y dirección. SecondaryField desempata para que el orden
// sea determinista (ej. make + id).
type Sort struct {
	Field          string
	SecondaryField string
	Desc           bool
}
